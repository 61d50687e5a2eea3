package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
)

func TestCalibrationStateRoundTrip(t *testing.T) {
	s := CalibrationState{
		ABIVersion:   ABIVersion,
		StateVersion: 3,
		Data:         []byte{1, 2, 3, 4, 5, 6, 7},
	}
	enc := EncodeCalibrationState(s)
	if len(enc) != CalibrationHeaderSize+len(s.Data) {
		t.Fatalf("encoded length = %d, want %d", len(enc), CalibrationHeaderSize+len(s.Data))
	}
	got, err := DecodeCalibrationState(enc)
	if err != nil {
		t.Fatalf("DecodeCalibrationState: %v", err)
	}
	if diff := deep.Equal(got, s); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestCalibrationStateBadMagic(t *testing.T) {
	enc := EncodeCalibrationState(CalibrationState{ABIVersion: 1, StateVersion: 1, Data: []byte{9}})
	enc[0] ^= 0xFF
	_, err := DecodeCalibrationState(enc)
	if err != ErrBadCalibrationMagic {
		t.Errorf("err = %v, want ErrBadCalibrationMagic", err)
	}
}

func TestCalibrationStateTruncated(t *testing.T) {
	enc := EncodeCalibrationState(CalibrationState{ABIVersion: 1, StateVersion: 1, Data: []byte{9, 9, 9}})
	_, err := DecodeCalibrationState(enc[:len(enc)-1])
	if err == nil {
		t.Fatal("expected error decoding truncated calibration state")
	}
}

func TestCalibrationFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.cort")
	want := CalibrationState{ABIVersion: 1, StateVersion: 2, Data: []byte("trained-weights")}
	if err := WriteCalibrationFile(path, want); err != nil {
		t.Fatalf("WriteCalibrationFile: %v", err)
	}
	got, err := ReadCalibrationFile(path)
	if err != nil {
		t.Fatalf("ReadCalibrationFile: %v", err)
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("file round trip mismatch: %v", diff)
	}
}

func TestReadCalibrationFileMissing(t *testing.T) {
	_, err := ReadCalibrationFile(filepath.Join(t.TempDir(), "missing.cort"))
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want os.IsNotExist", err)
	}
}
