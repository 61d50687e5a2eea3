package devicecomm

import (
	"os"
	"testing"
	"time"

	"github.com/cortexbench/cortex/adapter"
	_ "github.com/cortexbench/cortex/kernel/kernels"
	"github.com/cortexbench/cortex/transport"
	"github.com/cortexbench/cortex/wire"
)

func pipePair(t *testing.T) (harness, adapterSide transport.Transport) {
	t.Helper()
	hostR, adapterW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	adapterR, hostW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	harness = transport.NewLocalFD(hostR, hostW, true)
	adapterSide = transport.NewLocalFD(adapterR, adapterW, true)
	return harness, adapterSide
}

func TestSessionHandshakeAndDispatchAgainstInProcessAdapter(t *testing.T) {
	harnessT, adapterT := pipePair(t)

	rt := adapter.NewRuntime("in-process-adapter", 7, adapterT, []string{"primitives/kernels/v1/passthrough@f32"})
	adapterDone := make(chan error, 1)
	go func() { adapterDone <- rt.Run() }()

	sess := Connect(harnessT)
	if err := sess.Handshake("primitives/kernels/v1/passthrough@f32", 256, 4, 4, 2, wire.DTypeF32, "", nil); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	window := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	rec := sess.Dispatch(0, window)
	if rec.Err != nil {
		t.Fatalf("Dispatch: %v", rec.Err)
	}
	if len(rec.Output) != 8 {
		t.Fatalf("len(Output) = %d, want 8", len(rec.Output))
	}
	for i := range window {
		if rec.Output[i] != window[i] {
			t.Errorf("Output[%d] = %v, want %v", i, rec.Output[i], window[i])
		}
	}
	if rec.DeadlineMiss {
		t.Error("DeadlineMiss = true for an immediate in-process round trip")
	}

	rec2 := sess.Dispatch(1, window)
	if rec2.Err != nil {
		t.Fatalf("Dispatch(1): %v", rec2.Err)
	}

	if err := sess.Teardown(2 * time.Second); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	select {
	case err := <-adapterDone:
		if err != nil {
			t.Errorf("adapter Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not exit after Teardown")
	}
}

// TestSessionDispatchHandlesLargeSingleFrameResult exercises the S1/S2
// geometry (W=160, C=64) whose 41 020-byte RESULT payload is still a
// single, unchunked frame, but exceeds the reassembly-sized read bound a
// WINDOW_CHUNK/RESULT-chunk read uses.
func TestSessionDispatchHandlesLargeSingleFrameResult(t *testing.T) {
	harnessT, adapterT := pipePair(t)
	defer harnessT.Close()
	defer adapterT.Close()

	rt := adapter.NewRuntime("adapter-large", 1, adapterT, []string{"primitives/kernels/v1/passthrough@f32"})
	adapterDone := make(chan error, 1)
	go func() { adapterDone <- rt.Run() }()

	sess := Connect(harnessT)
	const w, h, c = 160, 160, 64
	if err := sess.Handshake("primitives/kernels/v1/passthrough@f32", 1000, w, h, c, wire.DTypeF32, "", nil); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	window := make([]float32, w*c)
	for i := range window {
		window[i] = float32(i)
	}
	rec := sess.Dispatch(0, window)
	if rec.Err != nil {
		t.Fatalf("Dispatch: %v", rec.Err)
	}
	if len(rec.Output) != len(window) {
		t.Fatalf("len(Output) = %d, want %d", len(rec.Output), len(window))
	}
	for i := range window {
		if rec.Output[i] != window[i] {
			t.Fatalf("Output[%d] = %v, want %v", i, rec.Output[i], window[i])
		}
	}

	if err := sess.Teardown(2 * time.Second); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	select {
	case err := <-adapterDone:
		if err != nil {
			t.Errorf("adapter Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not exit after Teardown")
	}
}

func TestSessionDetectsSessionMismatch(t *testing.T) {
	harnessT, adapterT := pipePair(t)
	defer harnessT.Close()
	defer adapterT.Close()

	rt := adapter.NewRuntime("adapter-a", 1, adapterT, []string{"primitives/kernels/v1/passthrough@f32"})
	go rt.Run()

	sess := Connect(harnessT)
	if err := sess.Handshake("primitives/kernels/v1/passthrough@f32", 100, 2, 2, 1, wire.DTypeF32, "", nil); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	sess.sessionID = ^sess.sessionID // corrupt our own expectation post-handshake

	rec := sess.Dispatch(0, []float32{1, 2})
	if rec.Err != ErrSessionMismatch {
		t.Errorf("Dispatch err = %v, want ErrSessionMismatch", rec.Err)
	}
}

func TestSessionHandshakeSurfacesKernelInitFailure(t *testing.T) {
	harnessT, adapterT := pipePair(t)
	defer harnessT.Close()
	defer adapterT.Close()

	rt := adapter.NewRuntime("adapter-b", 1, adapterT, nil)
	go rt.Run()

	sess := Connect(harnessT)
	err := sess.Handshake("primitives/kernels/v1/does-not-exist@f32", 100, 2, 2, 1, wire.DTypeF32, "", nil)
	if err == nil {
		t.Fatal("Handshake err = nil, want an adapter error for unknown kernel")
	}
}

func TestSessionHandshakeTimesOutWhenAdapterNeverResponds(t *testing.T) {
	harnessT, adapterT := pipePair(t)
	defer harnessT.Close()
	defer adapterT.Close()

	// No adapter running on the other end; Handshake itself will time out
	// waiting for HELLO, which is the observable failure mode here.
	sess := Connect(harnessT)
	sess.HelloTimeoutMS = 100
	err := sess.Handshake("primitives/kernels/v1/passthrough@f32", 100, 2, 2, 1, wire.DTypeF32, "", nil)
	if err == nil {
		t.Fatal("Handshake err = nil, want a timeout")
	}
	if !transport.IsTimeout(err) {
		t.Errorf("err = %v, want a TIMEOUT error", err)
	}
}
