package schedule

import (
	"os"
	"testing"

	"github.com/cortexbench/cortex/adapter"
	"github.com/cortexbench/cortex/devicecomm"
	_ "github.com/cortexbench/cortex/kernel/kernels"
	"github.com/cortexbench/cortex/replay"
	"github.com/cortexbench/cortex/transport"
	"github.com/cortexbench/cortex/wire"
)

func TestSlideInFillsAndSlidesWindow(t *testing.T) {
	s := NewScheduler(nil, 4, 2, 1, 0)
	s.slideIn([]float32{1, 2})
	if s.filled != 2 {
		t.Fatalf("filled = %d, want 2", s.filled)
	}
	s.slideIn([]float32{3, 4})
	if s.filled != 4 {
		t.Fatalf("filled = %d, want 4", s.filled)
	}
	want := []float32{1, 2, 3, 4}
	for i := range want {
		if s.ring[i] != want[i] {
			t.Errorf("ring[%d] = %v, want %v", i, s.ring[i], want[i])
		}
	}
	s.slideIn([]float32{5, 6})
	want = []float32{3, 4, 5, 6}
	for i := range want {
		if s.ring[i] != want[i] {
			t.Errorf("ring[%d] after slide = %v, want %v", i, s.ring[i], want[i])
		}
	}
}

func TestFeedDispatchesOnceWindowIsFull(t *testing.T) {
	harnessT, adapterT := pipePairForTest(t)
	defer harnessT.Close()
	defer adapterT.Close()

	rt := adapter.NewRuntime("sched-test-adapter", 1, adapterT, []string{"primitives/kernels/v1/passthrough@f32"})
	go rt.Run()

	sess := devicecomm.Connect(harnessT)
	if err := sess.Handshake("primitives/kernels/v1/passthrough@f32", 256, 4, 2, 1, wire.DTypeF32, "", nil); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	sch := NewScheduler(sess, 4, 2, 1, 1)

	_, ok := sch.Feed(replay.Hop{Samples: []float32{1, 2}, Index: 0})
	if ok {
		t.Fatal("Feed dispatched before the window had W samples")
	}

	res, ok := sch.Feed(replay.Hop{Samples: []float32{3, 4}, Index: 1})
	if !ok {
		t.Fatal("Feed did not dispatch once the window filled")
	}
	if res.Err != nil {
		t.Fatalf("dispatch error: %v", res.Err)
	}
	if !res.Warmup {
		t.Error("first dispatched window should be flagged warmup with Warmup=1")
	}

	res2, ok := sch.Feed(replay.Hop{Samples: []float32{5, 6}, Index: 2})
	if !ok {
		t.Fatal("Feed did not dispatch on the next hop")
	}
	if res2.Warmup {
		t.Error("second dispatched window should not be flagged warmup")
	}
}

func pipePairForTest(t *testing.T) (harness, adapterSide transport.Transport) {
	t.Helper()
	hostR, adapterW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	adapterR, hostW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	return transport.NewLocalFD(hostR, hostW, true), transport.NewLocalFD(adapterR, adapterW, true)
}
