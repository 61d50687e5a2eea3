package wire

// ChunkHeader is the per-chunk metadata record prefixing every WINDOW_CHUNK
// payload and every chunked RESULT payload, the first included.
//
//	offset 0  sequence      u32  window index
//	offset 4  total_bytes   u32  entire transfer's byte length
//	offset 8  offset_bytes  u32  this chunk's starting offset
//	offset 12 chunk_length  u32  this chunk's payload length
//	offset 16 flags         u16  bit 0 = LAST
//	offset 18 reserved      u16
const ChunkHeaderSize = 20

// ChunkHeader is the decoded form of the fixed 20-byte chunk metadata record.
type ChunkHeader struct {
	Sequence     uint32
	TotalBytes   uint32
	OffsetBytes  uint32
	ChunkLength  uint32
	Flags        uint16
}

// Last reports whether this chunk carries the LAST flag.
func (c ChunkHeader) Last() bool { return c.Flags&ChunkLastFlag != 0 }

// Encode writes the chunk header into the first ChunkHeaderSize bytes of b.
func (c ChunkHeader) Encode(b []byte) {
	StoreU32(b, 0, c.Sequence)
	StoreU32(b, 4, c.TotalBytes)
	StoreU32(b, 8, c.OffsetBytes)
	StoreU32(b, 12, c.ChunkLength)
	StoreU16(b, 16, c.Flags)
	StoreU16(b, 18, 0)
}

// DecodeChunkHeader reads a ChunkHeader from the first ChunkHeaderSize bytes
// of b.
func DecodeChunkHeader(b []byte) ChunkHeader {
	return ChunkHeader{
		Sequence:    LoadU32(b, 0),
		TotalBytes:  LoadU32(b, 4),
		OffsetBytes: LoadU32(b, 8),
		ChunkLength: LoadU32(b, 12),
		Flags:       LoadU16(b, 16),
	}
}

// PlanChunks splits a totalBytes-length transfer into chunk (offset, length)
// pairs of at most maxChunk bytes each, left to right, with the LAST flag
// implied on the final element. A totalBytes exactly equal to maxChunk plans
// exactly one chunk; one byte larger plans exactly two.
func PlanChunks(totalBytes, maxChunk int) []ChunkHeader {
	if totalBytes == 0 {
		return []ChunkHeader{{TotalBytes: 0, Flags: ChunkLastFlag}}
	}
	var chunks []ChunkHeader
	off := 0
	for off < totalBytes {
		n := totalBytes - off
		if n > maxChunk {
			n = maxChunk
		}
		off += n
		flags := uint16(0)
		if off >= totalBytes {
			flags = ChunkLastFlag
		}
		chunks = append(chunks, ChunkHeader{
			TotalBytes:  uint32(totalBytes),
			OffsetBytes: uint32(off - n),
			ChunkLength: uint32(n),
			Flags:       flags,
		})
	}
	return chunks
}

// Reassembler accumulates chunks for a single in-order chunked transfer
// (window or result) into a destination buffer, enforcing the strict
// in-order, non-overlapping, exactly-covering invariants from spec §4.3.
type Reassembler struct {
	expectedSeq  uint32
	totalBytes   uint32
	received     uint32
	buf          []byte
	started      bool
	done         bool
}

// NewReassembler creates a Reassembler expecting chunks for window index
// expectedSeq, writing into a buffer of at most capBytes bytes.
func NewReassembler(expectedSeq uint32, capBytes int) *Reassembler {
	return &Reassembler{expectedSeq: expectedSeq, buf: make([]byte, 0, capBytes)}
}

// Reset rearms a Reassembler for a new transfer expecting window index
// expectedSeq, reusing its underlying buffer's capacity. Callers that
// dispatch one window/result per iteration should reuse a single
// Reassembler via Reset rather than allocate a fresh one each time.
func (r *Reassembler) Reset(expectedSeq uint32) {
	r.expectedSeq = expectedSeq
	r.totalBytes = 0
	r.received = 0
	r.buf = r.buf[:0]
	r.started = false
	r.done = false
}

// Feed applies one chunk's header and payload bytes. It returns true once the
// LAST chunk has been applied and the transfer is complete.
func (r *Reassembler) Feed(h ChunkHeader, payload []byte) (done bool, err error) {
	if uint32(len(payload)) != h.ChunkLength {
		return false, ErrSequenceMismatch
	}
	if h.ChunkLength > MaxChunkBytes {
		return false, ErrChunkPayloadLarge
	}
	if !r.started {
		if h.OffsetBytes != 0 || h.Sequence != r.expectedSeq {
			return false, ErrSequenceMismatch
		}
		if int(h.TotalBytes) > cap(r.buf) {
			return false, ErrBufferTooSmall
		}
		r.totalBytes = h.TotalBytes
		r.started = true
	} else {
		if h.Sequence != r.expectedSeq {
			return false, ErrSequenceMismatch
		}
		if h.OffsetBytes != r.received {
			return false, ErrSequenceMismatch
		}
	}
	if h.OffsetBytes+h.ChunkLength > r.totalBytes {
		return false, ErrSequenceMismatch
	}
	r.buf = append(r.buf, payload...)
	r.received += h.ChunkLength
	if h.Last() {
		if r.received != r.totalBytes {
			return false, ErrIncomplete
		}
		r.done = true
		return true, nil
	}
	return false, nil
}

// Bytes returns the reassembled payload. Only valid once Feed has reported
// done.
func (r *Reassembler) Bytes() []byte { return r.buf }
