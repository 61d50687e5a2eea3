package kernels

import (
	"math"

	"github.com/cortexbench/cortex/kernel"
)

func init() {
	kernel.Register("primitives/kernels/v1/goertzel-bandpower@f32", func() kernel.Kernel {
		return &Bandpower{}
	})
}

const defaultTargetHz = 10.0

// Bandpower reduces a W×C window to a single power-per-channel value via
// the Goertzel algorithm, targeting one frequency bin. It exists to
// exercise the adapter's output-shape-override and shrunk single-frame
// RESULT paths: OutputW is always 1 regardless of input W.
//
// cfg.Params, if non-empty, carries a little-endian float32 target
// frequency in Hz; otherwise defaultTargetHz is used.
type Bandpower struct {
	w, c      uint32
	coeff     float32
	s1, s2    []float32 // per-channel Goertzel state, reused across windows
}

func (b *Bandpower) Init(cfg kernel.Config) (kernel.InitResult, error) {
	if cfg.ABIVersion != kernel.ABIVersion {
		return kernel.InitResult{}, kernel.ErrUnsupportedABIVersion
	}
	targetHz := float32(defaultTargetHz)
	if len(cfg.Params) >= 4 {
		bits := uint32(cfg.Params[0]) | uint32(cfg.Params[1])<<8 | uint32(cfg.Params[2])<<16 | uint32(cfg.Params[3])<<24
		targetHz = math.Float32frombits(bits)
	}
	b.w, b.c = cfg.W, cfg.C
	k := float64(cfg.W) * float64(targetHz) / float64(cfg.Fs)
	omega := 2 * math.Pi * k / float64(cfg.W)
	b.coeff = float32(2 * math.Cos(omega))
	b.s1 = make([]float32, cfg.C)
	b.s2 = make([]float32, cfg.C)
	return kernel.InitResult{
		Handle:  b,
		OutputW: 1,
		OutputC: cfg.C,
	}, nil
}

func (b *Bandpower) Process(handle kernel.Handle, input, output []float32) error {
	h, ok := handle.(*Bandpower)
	if !ok || h != b {
		return errNotInitialized
	}
	w, c := int(b.w), int(b.c)
	if len(input) < w*c || len(output) < c {
		return errNotInitialized
	}
	for ch := 0; ch < c; ch++ {
		b.s1[ch] = 0
		b.s2[ch] = 0
	}
	for s := 0; s < w; s++ {
		base := s * c
		for ch := 0; ch < c; ch++ {
			x := input[base+ch]
			if x != x { // NaN: exclude from the reduction
				x = 0
			}
			s0 := x + b.coeff*b.s1[ch] - b.s2[ch]
			b.s2[ch] = b.s1[ch]
			b.s1[ch] = s0
		}
	}
	for ch := 0; ch < c; ch++ {
		power := b.s1[ch]*b.s1[ch] + b.s2[ch]*b.s2[ch] - b.coeff*b.s1[ch]*b.s2[ch]
		output[ch] = power
	}
	return nil
}

func (b *Bandpower) Teardown(handle kernel.Handle) error {
	b.s1, b.s2 = nil, nil
	return nil
}
