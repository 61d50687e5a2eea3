package wire

// DType tags the numeric element type carried in a window or result. Only
// F32 is defined in protocol v1; the tag exists so a future version can add
// others without changing the frame shape.
type DType uint8

// Supported dtype tags.
const (
	DTypeF32 DType = 0
)

// Capability bits advertised by a kernel plugin (spec §4.4).
const (
	CapOfflineCalib uint32 = 1 << 0
)

// Hello is the adapter→harness HELLO payload.
type Hello struct {
	BootID            uint64
	AdapterID         string // truncated/padded to 32 bytes on the wire
	ABIVersion        uint32
	MaxWindowSamples  uint32
	MaxChannels       uint32
	Hostname          string
	CPU               string
	OS                string
	Kernels           []string
}

const adapterIDFieldSize = 32

// EncodeHello serializes h into a HELLO payload.
func EncodeHello(h Hello) []byte {
	id := []byte(h.AdapterID)
	if len(id) > adapterIDFieldSize {
		id = id[:adapterIDFieldSize]
	}
	size := 8 + adapterIDFieldSize + 4 + 4 + 4
	size += 2 + len(h.Hostname) + 2 + len(h.CPU) + 2 + len(h.OS)
	size += 2
	for _, k := range h.Kernels {
		size += 2 + len(k)
	}
	b := make([]byte, size)
	off := 0
	StoreU64(b, off, h.BootID)
	off += 8
	copy(b[off:off+adapterIDFieldSize], id)
	off += adapterIDFieldSize
	StoreU32(b, off, h.ABIVersion)
	off += 4
	StoreU32(b, off, h.MaxWindowSamples)
	off += 4
	StoreU32(b, off, h.MaxChannels)
	off += 4
	off = putString(b, off, h.Hostname)
	off = putString(b, off, h.CPU)
	off = putString(b, off, h.OS)
	StoreU16(b, off, uint16(len(h.Kernels)))
	off += 2
	for _, k := range h.Kernels {
		off = putString(b, off, k)
	}
	return b
}

// DecodeHello parses a HELLO payload.
func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	if len(b) < 8+adapterIDFieldSize+12 {
		return h, ErrBufferTooSmall
	}
	off := 0
	h.BootID = LoadU64(b, off)
	off += 8
	id := b[off : off+adapterIDFieldSize]
	off += adapterIDFieldSize
	h.AdapterID = trimNulls(id)
	h.ABIVersion = LoadU32(b, off)
	off += 4
	h.MaxWindowSamples = LoadU32(b, off)
	off += 4
	h.MaxChannels = LoadU32(b, off)
	off += 4
	var err error
	h.Hostname, off, err = getString(b, off)
	if err != nil {
		return h, err
	}
	h.CPU, off, err = getString(b, off)
	if err != nil {
		return h, err
	}
	h.OS, off, err = getString(b, off)
	if err != nil {
		return h, err
	}
	if off+2 > len(b) {
		return h, ErrBufferTooSmall
	}
	n := LoadU16(b, off)
	off += 2
	h.Kernels = make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		var k string
		k, off, err = getString(b, off)
		if err != nil {
			return h, err
		}
		h.Kernels = append(h.Kernels, k)
	}
	return h, nil
}

// Config is the harness→adapter CONFIG payload.
type Config struct {
	SessionID        uint64
	Fs               float32
	W, H, C          uint32
	DType            DType
	PluginID         string
	Params           string
	CalibrationState []byte
}

// EncodeConfig serializes c into a CONFIG payload. Returns ErrChunkPayloadLarge-equivalent
// via ErrPayloadTooLarge if the calibration payload would not fit a single frame.
func EncodeConfig(c Config) ([]byte, error) {
	size := 8 + 4 + 4 + 4 + 4 + 1
	size += 2 + len(c.PluginID) + 2 + len(c.Params)
	size += 4 + len(c.CalibrationState)
	if size > MaxFrameBytes-HeaderSize {
		return nil, ErrPayloadTooLarge
	}
	b := make([]byte, size)
	off := 0
	StoreU64(b, off, c.SessionID)
	off += 8
	StoreF32(b, off, c.Fs)
	off += 4
	StoreU32(b, off, c.W)
	off += 4
	StoreU32(b, off, c.H)
	off += 4
	StoreU32(b, off, c.C)
	off += 4
	b[off] = byte(c.DType)
	off++
	off = putString(b, off, c.PluginID)
	off = putString(b, off, c.Params)
	StoreU32(b, off, uint32(len(c.CalibrationState)))
	off += 4
	copy(b[off:], c.CalibrationState)
	return b, nil
}

// DecodeConfig parses a CONFIG payload.
func DecodeConfig(b []byte) (Config, error) {
	var c Config
	if len(b) < 8+4+4+4+4+1+2+2+4 {
		return c, ErrBufferTooSmall
	}
	off := 0
	c.SessionID = LoadU64(b, off)
	off += 8
	c.Fs = LoadF32(b, off)
	off += 4
	c.W = LoadU32(b, off)
	off += 4
	c.H = LoadU32(b, off)
	off += 4
	c.C = LoadU32(b, off)
	off += 4
	c.DType = DType(b[off])
	off++
	var err error
	c.PluginID, off, err = getString(b, off)
	if err != nil {
		return c, err
	}
	c.Params, off, err = getString(b, off)
	if err != nil {
		return c, err
	}
	if off+4 > len(b) {
		return c, ErrBufferTooSmall
	}
	n := LoadU32(b, off)
	off += 4
	if off+int(n) > len(b) {
		return c, ErrBufferTooSmall
	}
	c.CalibrationState = append([]byte(nil), b[off:off+int(n)]...)
	return c, nil
}

// Ack is the adapter→harness ACK payload. OutputW/OutputC override the
// window shape declared in CONFIG when the kernel's output shape differs
// (e.g. bandpower reduces W or C).
type Ack struct {
	OutputW      uint32
	OutputC      uint32
	Capabilities uint32
}

// EncodeAck serializes a into an ACK payload.
func EncodeAck(a Ack) []byte {
	b := make([]byte, 12)
	StoreU32(b, 0, a.OutputW)
	StoreU32(b, 4, a.OutputC)
	StoreU32(b, 8, a.Capabilities)
	return b
}

// DecodeAck parses an ACK payload.
func DecodeAck(b []byte) (Ack, error) {
	var a Ack
	if len(b) < 12 {
		return a, ErrBufferTooSmall
	}
	a.OutputW = LoadU32(b, 0)
	a.OutputC = LoadU32(b, 4)
	a.Capabilities = LoadU32(b, 8)
	return a, nil
}

// ResultHeader is the fixed metadata record carried once, in the first chunk
// of a RESULT transfer (spec §4.3).
type ResultHeader struct {
	SessionID                                  uint64
	Sequence                                   uint32
	TIn, TStart, TEnd, TFirstTx, TLastTx        uint64
	OutputW, OutputC                            uint32
}

// ResultHeaderSize is the encoded size of ResultHeader.
const ResultHeaderSize = 8 + 4 + 8*5 + 4 + 4

// Encode writes r into the first ResultHeaderSize bytes of b.
func (r ResultHeader) Encode(b []byte) {
	StoreU64(b, 0, r.SessionID)
	StoreU32(b, 8, r.Sequence)
	StoreU64(b, 12, r.TIn)
	StoreU64(b, 20, r.TStart)
	StoreU64(b, 28, r.TEnd)
	StoreU64(b, 36, r.TFirstTx)
	StoreU64(b, 44, r.TLastTx)
	StoreU32(b, 52, r.OutputW)
	StoreU32(b, 56, r.OutputC)
}

// DecodeResultHeader reads a ResultHeader from the first ResultHeaderSize
// bytes of b.
func DecodeResultHeader(b []byte) (ResultHeader, error) {
	var r ResultHeader
	if len(b) < ResultHeaderSize {
		return r, ErrBufferTooSmall
	}
	r.SessionID = LoadU64(b, 0)
	r.Sequence = LoadU32(b, 8)
	r.TIn = LoadU64(b, 12)
	r.TStart = LoadU64(b, 20)
	r.TEnd = LoadU64(b, 28)
	r.TFirstTx = LoadU64(b, 36)
	r.TLastTx = LoadU64(b, 44)
	r.OutputW = LoadU32(b, 52)
	r.OutputC = LoadU32(b, 56)
	return r, nil
}

// ErrorMsg is the payload of an ERROR frame, sent in either direction.
type ErrorMsg struct {
	Code    uint32
	Message string // truncated to 256 bytes on the wire
}

const errorMessageMax = 256

// EncodeError serializes e into an ERROR payload.
func EncodeError(e ErrorMsg) []byte {
	msg := e.Message
	if len(msg) > errorMessageMax {
		msg = msg[:errorMessageMax]
	}
	b := make([]byte, 4+2+len(msg))
	StoreU32(b, 0, e.Code)
	StoreU16(b, 4, uint16(len(msg)))
	copy(b[6:], msg)
	return b
}

// DecodeError parses an ERROR payload.
func DecodeError(b []byte) (ErrorMsg, error) {
	var e ErrorMsg
	if len(b) < 6 {
		return e, ErrBufferTooSmall
	}
	e.Code = LoadU32(b, 0)
	n := LoadU16(b, 4)
	if 6+int(n) > len(b) {
		return e, ErrBufferTooSmall
	}
	e.Message = string(b[6 : 6+int(n)])
	return e, nil
}

func putString(b []byte, off int, s string) int {
	StoreU16(b, off, uint16(len(s)))
	off += 2
	copy(b[off:], s)
	return off + len(s)
}

func getString(b []byte, off int) (string, int, error) {
	if off+2 > len(b) {
		return "", off, ErrBufferTooSmall
	}
	n := int(LoadU16(b, off))
	off += 2
	if off+n > len(b) {
		return "", off, ErrBufferTooSmall
	}
	return string(b[off : off+n]), off + n, nil
}

func trimNulls(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
