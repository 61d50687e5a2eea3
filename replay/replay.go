// Package replay implements the wall-clock-paced hop emitter (spec §4.7):
// it reads a raw interleaved-f32 dataset and yields successive H-sample
// hops at the rate H/Fs, sleeping until each hop's target release time.
package replay

import (
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/cortexbench/cortex/wire"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// Hop is one H-sample, C-channel slab with its target wall-clock release
// time, as produced by Replayer.Next.
type Hop struct {
	Samples   []float32 // H*C row-major
	ReleaseAt time.Time
	Index     uint32
}

// ErrDone is returned by Next once a non-looping Replayer has exhausted the
// dataset.
var ErrDone = errors.New("replay: dataset exhausted")

// Replayer yields hops from a raw interleaved-f32 file at cadence H/Fs.
// Hop length in samples-per-channel is H; the file is read once into memory
// since kernel-run datasets are bounded by the run's configured duration,
// matching loader.go's whole-message-at-a-time read style rather than a
// streaming decoder.
type Replayer struct {
	samples []float32 // entire file, row-major H... interleaved by C
	c       int
	h       int
	fs      float32
	loop    bool

	pos        int // sample-rows consumed so far
	index      uint32
	nextRelease time.Time
	started    bool
}

// Open reads path (row-major float32, C channels interleaved) and returns a
// Replayer that emits H-sample hops at rate H/Fs. loop repeats the file if
// the requested run duration exceeds its length.
func Open(path string, c, h int, fs float32, loop bool) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, errors.New("replay: file length is not a multiple of 4 bytes")
	}
	n := len(raw) / 4
	samples := make([]float32, n)
	wire.LoadF32Slice(samples, raw, 0, n)
	if c <= 0 || n%c != 0 {
		return nil, errors.New("replay: file length is not a whole number of channel rows")
	}
	return &Replayer{samples: samples, c: c, h: h, fs: fs, loop: loop}, nil
}

// Next blocks until the next hop's release time (sleeping past a missed
// target rather than skipping samples, per spec §4.7's cadence rule), then
// returns it. It returns ErrDone once the dataset is exhausted and looping
// is disabled.
func (r *Replayer) Next() (Hop, error) {
	rowSamples := r.h * r.c
	rows := len(r.samples) / r.c
	if !r.started {
		r.nextRelease = time.Now()
		r.started = true
	} else {
		hopDuration := time.Duration(float64(r.h) / float64(r.fs) * float64(time.Second))
		r.nextRelease = r.nextRelease.Add(hopDuration)
	}

	if r.pos+r.h > rows {
		if !r.loop {
			return Hop{}, ErrDone
		}
		r.pos = 0
	}

	sleepUntil(r.nextRelease)

	start := r.pos * r.c
	out := make([]float32, rowSamples)
	copy(out, r.samples[start:start+rowSamples])
	r.pos += r.h
	hop := Hop{Samples: out, ReleaseAt: r.nextRelease, Index: r.index}
	r.index++
	return hop, nil
}

// sleepUntil blocks until t, or returns immediately if t has already
// passed — a late wakeup never causes samples to be skipped.
func sleepUntil(t time.Time) {
	d := time.Until(t)
	if d > 0 {
		time.Sleep(d)
	}
}

// LoadProfile names a background CPU-stressor regime (spec §4.7). It is a
// measurement-environment control, not a functional requirement.
type LoadProfile string

// Supported load profiles.
const (
	LoadIdle   LoadProfile = "idle"
	LoadMedium LoadProfile = "medium"
	LoadHeavy  LoadProfile = "heavy"
)

// Stressor is a running co-scheduled background load process.
type Stressor struct {
	cmd *exec.Cmd
}

// StartStressor launches an external CPU-stressor process for profile,
// pinning the host's frequency governor into a known regime for the
// duration of a run. Grounded on zstd.NewReader's os/exec.Command pattern;
// idle starts nothing.
func StartStressor(profile LoadProfile) (*Stressor, error) {
	var args []string
	switch profile {
	case LoadIdle, "":
		return &Stressor{}, nil
	case LoadMedium:
		args = []string{"--cpu", "1", "--timeout", "0"}
	case LoadHeavy:
		args = []string{"--cpu", "4", "--timeout", "0"}
	default:
		return nil, errors.New("replay: unknown load profile")
	}
	cmd := exec.Command("stress-ng", args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Stressor{cmd: cmd}, nil
}

// Stop terminates the stressor process, if one was started.
func (s *Stressor) Stop() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}
