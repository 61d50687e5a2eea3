package wire

// ErrorCode values carried in an ERROR frame's Code field, per spec §7's
// error taxonomy. Values below 0x8000 are recoverable from the sender's
// perspective; values at or above it are fatal to the session that raised
// them.
const (
	ErrCodeTimeout            uint32 = 0x0001
	ErrCodeConnReset          uint32 = 0x8001
	ErrCodeIO                 uint32 = 0x8002
	ErrCodeVersionMismatch    uint32 = 0x8003
	ErrCodeCRCMismatch        uint32 = 0x8004
	ErrCodeBufferTooSmall     uint32 = 0x8005
	ErrCodeSequenceMismatch   uint32 = 0x8006
	ErrCodeIncomplete         uint32 = 0x8007
	ErrCodeSessionMismatch    uint32 = 0x8008
	ErrCodeKernelInitFailed   uint32 = 0x8009
	ErrCodeKernelExecFailed   uint32 = 0x800A
	ErrCodeCalibrationTooBig  uint32 = 0x800B
)
