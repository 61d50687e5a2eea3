// Package wire implements the CRTX binary frame protocol: little-endian
// byte-addressed field access, CRC-32 framing, frame headers, and the
// chunked window/result transfer described by the device-adapter protocol.
//
// Fields are never read by casting a byte slice to a struct pointer. Strict
// alignment targets fault on unaligned loads, and Go does not guarantee
// struct layout matches the wire layout across architectures. Every field is
// read and written byte-by-byte through the helpers in this file.
package wire

import "math"

// LoadU16 reads a little-endian uint16 at offset off in b.
func LoadU16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

// LoadU32 reads a little-endian uint32 at offset off in b.
func LoadU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// LoadU64 reads a little-endian uint64 at offset off in b.
func LoadU64(b []byte, off int) uint64 {
	return uint64(LoadU32(b, off)) | uint64(LoadU32(b, off+4))<<32
}

// LoadF32 reads a little-endian IEEE-754 float32 at offset off in b.
func LoadF32(b []byte, off int) float32 {
	return math.Float32frombits(LoadU32(b, off))
}

// StoreU16 writes v at offset off in b in little-endian order.
func StoreU16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

// StoreU32 writes v at offset off in b in little-endian order.
func StoreU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

// StoreU64 writes v at offset off in b in little-endian order.
func StoreU64(b []byte, off int, v uint64) {
	StoreU32(b, off, uint32(v))
	StoreU32(b, off+4, uint32(v>>32))
}

// StoreF32 writes v at offset off in b in little-endian order.
func StoreF32(b []byte, off int, v float32) {
	StoreU32(b, off, math.Float32bits(v))
}

// LoadF32Slice decodes n little-endian float32 samples starting at offset off
// into dst, which must have length >= n. It is used on the window/result
// receive path to convert wire samples into host-format buffers during copy.
func LoadF32Slice(dst []float32, b []byte, off int, n int) {
	for i := 0; i < n; i++ {
		dst[i] = LoadF32(b, off+4*i)
	}
}

// StoreF32Slice encodes the samples in src as little-endian float32 starting
// at offset off in b, which must have room for 4*len(src) bytes from off.
func StoreF32Slice(b []byte, off int, src []float32) {
	for i, v := range src {
		StoreF32(b, off+4*i, v)
	}
}
