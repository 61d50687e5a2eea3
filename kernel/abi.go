// Package kernel defines the plugin ABI that adapters load kernels through:
// init/process/teardown plus an optional offline calibrate step, state
// serialization, and capability bits. The container (the adapter) never
// interprets a kernel's persistent state or calibration payload; it only
// moves bytes and enforces the hermetic contract of process.
package kernel

import "errors"

// ABIVersion is the plugin interface revision this package implements.
const ABIVersion uint32 = 1

// Capability bits, per spec §4.4.
const (
	CapOfflineCalib uint32 = 1 << 0
)

// Config is passed to Init and Calibrate. StructSize lets a kernel built
// against an older ABI safely ignore fields appended by a newer harness: the
// kernel must never read past StructSize bytes' worth of fields, even if the
// Go struct itself has grown.
type Config struct {
	ABIVersion      uint32
	StructSize      uint32
	Fs              float32
	W, H, C         uint32
	DType           DType
	InPlaceAllowed  bool
	Params          []byte // opaque plugin-parameter blob
	CalibrationState []byte // present only if the kernel requires calibration
}

// DType tags the numeric element type a kernel was built for.
type DType uint8

// Supported dtypes.
const (
	DTypeF32 DType = 0
)

// InitResult is returned by Init on success.
type InitResult struct {
	Handle       Handle
	OutputW      uint32
	OutputC      uint32
	Capabilities uint32
}

// Handle is an opaque kernel-owned reference to its persistent state, valid
// from a successful Init until the matching Teardown.
type Handle interface{}

// Errors returned by the ABI entry points.
var (
	ErrUnsupportedABIVersion = errors.New("kernel: unsupported abi_version")
	ErrUnsupportedStructSize = errors.New("kernel: unsupported struct_size")
	ErrCalibrationRequired   = errors.New("kernel: trainable kernel requires calibration state")
	ErrInitFailed            = errors.New("kernel: init failed")
)

// Kernel is the four-operation plugin ABI (spec §4.4). Process MUST NOT
// allocate, perform I/O, block, or call into the outside world — the adapter
// runtime's window loop calls it on every window with buffers it
// pre-allocated once, during the handshake. Calibrate is optional; a kernel that does
// not support offline calibration should report so via Capabilities rather
// than implementing it as a no-op, so the host can detect support the way
// it detects an absent dynamic-library symbol.
type Kernel interface {
	// Init allocates all persistent state and workspace for this run and
	// validates cfg. It must reject a cfg.ABIVersion or cfg.StructSize it
	// does not support.
	Init(cfg Config) (InitResult, error)
	// Process runs one window through the kernel: hermetic, synchronous,
	// deterministic up to floating-point rounding, NaN-tolerant. input is
	// W*C row-major float32 samples (row-major, sample-major: input[s*C+c]);
	// output must be sized for OutputW*OutputC from the matching InitResult.
	Process(handle Handle, input, output []float32) error
	// Teardown releases all resources acquired by Init. It must be
	// idempotent.
	Teardown(handle Handle) error
}

// Calibratable is implemented by kernels that support the optional offline
// calibrate step (spec §4.4, capability bit CapOfflineCalib). The plugin
// host type-asserts for this interface the way a dynamic loader looks up an
// optional symbol: its absence means "stateless, or pre-trained".
type Calibratable interface {
	Kernel
	// Calibrate executes offline: it may allocate and take arbitrary time.
	// trainingWindows is a slice of W*C row-major float32 windows.
	Calibrate(cfg Config, trainingWindows [][]float32) (state []byte, stateVersion uint32, err error)
}
