// Package kernels holds the reference kernel plugins registered into the
// static embedded registry. They exist to exercise the adapter runtime and
// wire protocol end to end, not as serious signal-processing routines.
package kernels

import (
	"errors"

	"github.com/cortexbench/cortex/kernel"
)

func init() {
	kernel.Register("primitives/kernels/v1/passthrough@f32", func() kernel.Kernel {
		return &Passthrough{}
	})
}

// Passthrough copies input to output unchanged. Output shape equals input
// shape; it exists to exercise the non-reducing path of the adapter loop
// and the unchunked small-RESULT path.
type Passthrough struct {
	w, c uint32
}

var errNotInitialized = errors.New("kernels: process called before init")

func (p *Passthrough) Init(cfg kernel.Config) (kernel.InitResult, error) {
	if cfg.ABIVersion != kernel.ABIVersion {
		return kernel.InitResult{}, kernel.ErrUnsupportedABIVersion
	}
	p.w, p.c = cfg.W, cfg.C
	return kernel.InitResult{
		Handle:  p,
		OutputW: cfg.W,
		OutputC: cfg.C,
	}, nil
}

func (p *Passthrough) Process(handle kernel.Handle, input, output []float32) error {
	h, ok := handle.(*Passthrough)
	if !ok || h != p {
		return errNotInitialized
	}
	n := int(p.w * p.c)
	if len(input) < n || len(output) < n {
		return errNotInitialized
	}
	copy(output[:n], input[:n])
	return nil
}

func (p *Passthrough) Teardown(handle kernel.Handle) error {
	p.w, p.c = 0, 0
	return nil
}
