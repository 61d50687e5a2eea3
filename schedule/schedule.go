// Package schedule implements window formation and sequential dispatch
// (spec §4.8): it accumulates replayer hops into a rolling per-channel
// sample buffer, forms a W-sample window once enough hops have arrived,
// and dispatches windows one at a time through devicecomm.
package schedule

import (
	"log"

	"github.com/cortexbench/cortex/devicecomm"
	"github.com/cortexbench/cortex/replay"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// Result pairs a dispatched window's devicecomm timing record with the
// scheduling metadata telemetry needs but devicecomm doesn't know about.
type Result struct {
	devicecomm.WindowRecord
	Warmup bool
}

// Scheduler maintains the rolling W-sample buffer and drives dispatch.
// Only one kernel run is ever active through a given Scheduler — per spec
// §4.8, parallel dispatch across kernels is forbidden; running several
// kernels means running several Schedulers in succession, never at once.
type Scheduler struct {
	Session *devicecomm.Session
	W, H, C int
	Warmup  int // number of leading windows flagged warmup

	ring        []float32 // capacity W*C, row-major, sliding by H*C each hop
	filled      int        // samples-per-channel currently valid in ring
	windowIndex uint32
}

// NewScheduler constructs a Scheduler bound to an already-handshaken
// devicecomm Session.
func NewScheduler(sess *devicecomm.Session, w, h, c, warmup int) *Scheduler {
	return &Scheduler{
		Session: sess,
		W:       w,
		H:       h,
		C:       c,
		Warmup:  warmup,
		ring:    make([]float32, w*c),
	}
}

// Feed accumulates one hop into the rolling buffer and, once at least W
// samples have accumulated, dispatches the formed window and returns its
// Result. It returns ok=false when the hop only partially fills the
// window and no dispatch happened yet.
func (s *Scheduler) Feed(hop replay.Hop) (Result, bool) {
	s.slideIn(hop.Samples)
	if s.filled < s.W {
		return Result{}, false
	}
	rec := s.Session.Dispatch(s.windowIndex, s.ring)
	res := Result{
		WindowRecord: rec,
		Warmup:       int(s.windowIndex) < s.Warmup,
	}
	s.windowIndex++
	return res, true
}

// slideIn shifts the ring buffer left by len(hopSamples)/C channels and
// appends the new hop at the tail, the way a rolling EEG buffer is
// maintained in practice: the oldest H samples-per-channel are dropped as
// the newest H arrive.
func (s *Scheduler) slideIn(hopSamples []float32) {
	hopRows := len(hopSamples) / s.C
	if hopRows >= s.W {
		copy(s.ring, hopSamples[len(hopSamples)-s.W*s.C:])
		s.filled = s.W
		return
	}
	copy(s.ring, s.ring[hopRows*s.C:])
	copy(s.ring[(s.W-hopRows)*s.C:], hopSamples)
	if s.filled < s.W {
		s.filled += hopRows
		if s.filled > s.W {
			s.filled = s.W
		}
	}
}

// RealTimeHint requests a raised scheduling priority on platforms that
// support it; it does not set CPU affinity. Its absence is logged, never
// fatal, per spec §4.8.
func RealTimeHint() {
	if err := tryRealTimeFIFO(); err != nil {
		log.Printf("schedule: real-time scheduling unavailable: %v", err)
	}
}
