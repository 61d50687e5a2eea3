package kernel

import (
	"errors"
	"io"
	"os"

	"github.com/cortexbench/cortex/wire"
)

// CalibrationMagic is the fixed 4-byte magic "CORT" = 0x434F5254 identifying
// a calibration state file.
const CalibrationMagic uint32 = 0x434F5254

// CalibrationHeaderSize is the fixed on-disk header size: magic, abi
// version, state version, payload size, each a u32.
const CalibrationHeaderSize = 16

// CalibrationState is a decoded calibration state file: a 16-byte header
// followed by a kernel-defined opaque payload. The container never
// interprets Data; only the owning kernel's Init does.
type CalibrationState struct {
	ABIVersion   uint32
	StateVersion uint32
	Data         []byte
}

// ErrBadCalibrationMagic is returned when a file does not begin with the
// CORT magic.
var ErrBadCalibrationMagic = errors.New("kernel: calibration file has wrong magic")

// EncodeCalibrationState serializes s as a calibration state file.
func EncodeCalibrationState(s CalibrationState) []byte {
	b := make([]byte, CalibrationHeaderSize+len(s.Data))
	wire.StoreU32(b, 0, CalibrationMagic)
	wire.StoreU32(b, 4, s.ABIVersion)
	wire.StoreU32(b, 8, s.StateVersion)
	wire.StoreU32(b, 12, uint32(len(s.Data)))
	copy(b[CalibrationHeaderSize:], s.Data)
	return b
}

// DecodeCalibrationState parses a calibration state file previously written
// by EncodeCalibrationState.
func DecodeCalibrationState(b []byte) (CalibrationState, error) {
	var s CalibrationState
	if len(b) < CalibrationHeaderSize {
		return s, io.ErrUnexpectedEOF
	}
	if wire.LoadU32(b, 0) != CalibrationMagic {
		return s, ErrBadCalibrationMagic
	}
	s.ABIVersion = wire.LoadU32(b, 4)
	s.StateVersion = wire.LoadU32(b, 8)
	size := wire.LoadU32(b, 12)
	if CalibrationHeaderSize+int(size) > len(b) {
		return s, io.ErrUnexpectedEOF
	}
	s.Data = append([]byte(nil), b[CalibrationHeaderSize:CalibrationHeaderSize+int(size)]...)
	return s, nil
}

// WriteCalibrationFile writes s to path.
func WriteCalibrationFile(path string, s CalibrationState) error {
	return os.WriteFile(path, EncodeCalibrationState(s), 0644)
}

// ReadCalibrationFile reads and decodes a calibration state file from path.
func ReadCalibrationFile(path string) (CalibrationState, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return CalibrationState{}, err
	}
	return DecodeCalibrationState(b)
}
