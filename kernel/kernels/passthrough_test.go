package kernels

import (
	"testing"

	"github.com/cortexbench/cortex/kernel"
)

func TestPassthroughCopiesInputToOutput(t *testing.T) {
	p := &Passthrough{}
	res, err := p.Init(kernel.Config{ABIVersion: kernel.ABIVersion, W: 4, C: 2, Fs: 256})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if res.OutputW != 4 || res.OutputC != 2 {
		t.Fatalf("output shape = %dx%d, want 4x2", res.OutputW, res.OutputC)
	}
	in := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	out := make([]float32, 8)
	if err := p.Process(res.Handle, in, out); err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if err := p.Teardown(res.Handle); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
}

func TestPassthroughRejectsWrongABIVersion(t *testing.T) {
	p := &Passthrough{}
	_, err := p.Init(kernel.Config{ABIVersion: kernel.ABIVersion + 1})
	if err != kernel.ErrUnsupportedABIVersion {
		t.Errorf("err = %v, want ErrUnsupportedABIVersion", err)
	}
}

func TestPassthroughProcessIsDeterministic(t *testing.T) {
	p := &Passthrough{}
	res, _ := p.Init(kernel.Config{ABIVersion: kernel.ABIVersion, W: 3, C: 1, Fs: 100})
	in := []float32{0.5, -0.25, 1.75}
	out1 := make([]float32, 3)
	out2 := make([]float32, 3)
	if err := p.Process(res.Handle, in, out1); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := p.Process(res.Handle, in, out2); err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i := range out1 {
		if out1[i] != out2[i] {
			t.Errorf("non-deterministic output at %d: %v vs %v", i, out1[i], out2[i])
		}
	}
}

func TestPassthroughProcessAllocatesNothing(t *testing.T) {
	p := &Passthrough{}
	res, _ := p.Init(kernel.Config{ABIVersion: kernel.ABIVersion, W: 8, C: 4, Fs: 256})
	in := make([]float32, 32)
	out := make([]float32, 32)
	allocs := testing.AllocsPerRun(100, func() {
		if err := p.Process(res.Handle, in, out); err != nil {
			t.Fatalf("Process: %v", err)
		}
	})
	if allocs != 0 {
		t.Errorf("Process allocated %v times per run, want 0", allocs)
	}
}
