// Package devicecomm is the harness-side counterpart to the adapter
// runtime (spec §4.6): it spawns or connects to exactly one adapter
// process per kernel run, drives the HELLO/CONFIG/ACK handshake, and
// dispatches windows one at a time, stamping the harness-side timestamps
// that pair with the adapter's device-side ones.
package devicecomm

import (
	"encoding/binary"
	"errors"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/cortexbench/cortex/telemetry/metrics"
	"github.com/cortexbench/cortex/transport"
	"github.com/cortexbench/cortex/wire"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// DefaultHelloTimeoutMS bounds how long the harness waits for HELLO after
// spawning or connecting to an adapter.
const DefaultHelloTimeoutMS = 5000

// DefaultGraceMS is added to a window's deadline to get the RESULT receive
// timeout (spec §4.6 step 4).
const DefaultGraceMS = 2000

// Session drives one adapter process for the lifetime of a kernel run.
type Session struct {
	Transport       transport.Transport
	HelloTimeoutMS  int // defaults to DefaultHelloTimeoutMS when zero
	cmd             *exec.Cmd // nil when connected to a pre-running adapter

	sessionID  uint64
	sequence   uint32
	outputW    uint32
	outputC    uint32
	hopBytes   int // H*C*4, the byte size of one hop
	windowFs   float32
	windowH    uint32
	pluginID   string

	// Buffers below are allocated once the window/output shapes settle and
	// reused across every dispatched window in the run rather than
	// reallocated per window; frame reads and encodes still allocate.
	sendBuf      []byte
	chunkScratch []byte
	resReasm     *wire.Reassembler
	resultSamples []float32
}

func (s *Session) helloTimeoutMS() int {
	if s.HelloTimeoutMS > 0 {
		return s.HelloTimeoutMS
	}
	return DefaultHelloTimeoutMS
}

// WindowRecord is the per-window timing record devicecomm hands back to the
// scheduler, which forwards it (plus its own fields) to telemetry.
type WindowRecord struct {
	WindowIndex  uint32
	ReleaseTS    int64
	DeadlineTS   int64
	StartTS      int64
	EndTS        int64
	DeadlineMiss bool
	TIn, TStart, TEnd, TFirstTx, TLastTx int64
	Output       []float32
	OutputW      uint32
	OutputC      uint32
	Err          error
}

// Errors surfaced by dispatch, per spec §4.6/§7.
var (
	ErrSessionMismatch = errors.New("devicecomm: RESULT session_id does not match CONFIG")
	ErrSequenceMismatch = errors.New("devicecomm: RESULT sequence does not match dispatched window")
	ErrRunAborted      = errors.New("devicecomm: run aborted per failure-handling policy")
)

// SpawnLocal starts name as a child process, wiring a paired-FD transport to
// its stdin/stdout, and returns a Session ready for Handshake. Grounded on
// the teacher's zstd package's os/exec + os.Pipe process-piping pattern
// (zstd.NewReader/NewWriter), generalized from a one-way compression pipe
// to a bidirectional protocol channel: one os.Pipe feeds the child's
// stdin, another carries the child's stdout back to us.
func SpawnLocal(name string, args ...string) (*Session, error) {
	childStdinR, harnessStdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	harnessStdoutR, childStdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(name, args...)
	cmd.Stdin = childStdinR
	cmd.Stdout = childStdoutW
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	childStdinR.Close()
	childStdoutW.Close()
	t := transport.NewLocalFD(harnessStdoutR, harnessStdinW, true)
	return &Session{Transport: t, cmd: cmd}, nil
}

// Connect wraps an already-established Transport (TCP or serial to a
// pre-running adapter) as a Session.
func Connect(t transport.Transport) *Session {
	return &Session{Transport: t}
}

// Handshake drives HELLO/CONFIG/ACK per spec §4.6. pluginID selects the
// kernel the adapter should load; calibration may be nil.
func (s *Session) Handshake(pluginID string, fs float32, w, h, c uint32, dtype wire.DType, params string, calibration []byte) error {
	helloHeader, helloPayload, err := wire.ReadFrame(s.Transport, s.helloTimeoutMS(), wire.MaxFrameBytes-wire.HeaderSize)
	if err != nil {
		return err
	}
	if helloHeader.Type != wire.FrameHello {
		return errUnexpectedFrameType(helloHeader.Type, wire.FrameHello)
	}
	if _, err := wire.DecodeHello(helloPayload); err != nil {
		return err
	}

	s.sessionID = randSessionID()
	s.windowFs, s.windowH = fs, h
	cfgPayload, err := wire.EncodeConfig(wire.Config{
		SessionID:        s.sessionID,
		Fs:               fs,
		W:                w,
		H:                h,
		C:                c,
		DType:            dtype,
		PluginID:         pluginID,
		Params:           params,
		CalibrationState: calibration,
	})
	if err != nil {
		return err
	}
	frame, err := wire.EncodeFrame(wire.FrameConfig, cfgPayload)
	if err != nil {
		return err
	}
	if _, err := s.Transport.Send(frame); err != nil {
		return err
	}

	ackHeader, ackPayload, err := wire.ReadFrame(s.Transport, s.helloTimeoutMS(), wire.MaxFrameBytes-wire.HeaderSize)
	if err != nil {
		return err
	}
	if ackHeader.Type == wire.FrameError {
		em, _ := wire.DecodeError(ackPayload)
		return &adapterError{code: em.Code, message: em.Message}
	}
	if ackHeader.Type != wire.FrameAck {
		return errUnexpectedFrameType(ackHeader.Type, wire.FrameAck)
	}
	ack, err := wire.DecodeAck(ackPayload)
	if err != nil {
		return err
	}
	s.outputW, s.outputC = ack.OutputW, ack.OutputC
	s.hopBytes = int(h) * int(c) * 4
	s.pluginID = pluginID

	resultCap := wire.ResultHeaderSize + int(ack.OutputW)*int(ack.OutputC)*4
	s.resReasm = wire.NewReassembler(0, resultCap)
	s.resultSamples = make([]float32, 0, int(ack.OutputW)*int(ack.OutputC))
	s.chunkScratch = make([]byte, wire.ChunkHeaderSize+wire.MaxChunkBytes)
	s.sendBuf = make([]byte, int(w)*int(c)*4)
	return nil
}

// Dispatch sends one window (W*C row-major float32 samples, chunked as
// needed) and blocks for the
// matching RESULT, returning a WindowRecord with every timestamp spec §4.6
// names. Dispatch never panics on a recoverable TIMEOUT; the caller
// decides whether to continue or abort based on its error budget.
func (s *Session) Dispatch(windowIndex uint32, window []float32) WindowRecord {
	rec := WindowRecord{WindowIndex: windowIndex, OutputW: s.outputW, OutputC: s.outputC}
	rec.ReleaseTS = nowNS()
	rec.DeadlineTS = rec.ReleaseTS + int64(float64(s.windowH)/float64(s.windowFs)*1e9)

	if err := s.sendWindow(windowIndex, window); err != nil {
		rec.Err = err
		return rec
	}
	rec.StartTS = nowNS()

	graceMS := int((rec.DeadlineTS-rec.ReleaseTS)/1_000_000) + DefaultGraceMS
	rh, output, err := s.recvResult(graceMS)
	if err != nil {
		rec.Err = err
		rec.DeadlineMiss = transport.IsTimeout(err)
		return rec
	}
	if rh.SessionID != s.sessionID {
		rec.Err = ErrSessionMismatch
		return rec
	}
	if rh.Sequence != windowIndex {
		rec.Err = ErrSequenceMismatch
		return rec
	}
	rec.EndTS = nowNS()
	rec.TIn, rec.TStart, rec.TEnd = int64(rh.TIn), int64(rh.TStart), int64(rh.TEnd)
	rec.TFirstTx, rec.TLastTx = int64(rh.TFirstTx), int64(rh.TLastTx)
	rec.Output = output
	rec.OutputW, rec.OutputC = rh.OutputW, rh.OutputC
	rec.DeadlineMiss = rec.EndTS > rec.DeadlineTS
	metrics.DispatchLatencyHistogram.WithLabelValues(s.pluginID).Observe(time.Duration(rec.EndTS - rec.StartTS).Seconds())
	return rec
}

func (s *Session) sendWindow(windowIndex uint32, window []float32) error {
	raw := s.sendBuf
	wire.StoreF32Slice(raw, 0, window)
	chunks := wire.PlanChunks(len(raw), wire.MaxChunkBytes)
	for i := range chunks {
		chunkLen := int(chunks[i].ChunkLength)
		payload := s.chunkScratch[:wire.ChunkHeaderSize+chunkLen]
		chunks[i].Sequence = windowIndex
		chunks[i].Encode(payload)
		copy(payload[wire.ChunkHeaderSize:], raw[chunks[i].OffsetBytes:chunks[i].OffsetBytes+chunks[i].ChunkLength])
		frame, err := wire.EncodeFrame(wire.FrameWindowChunk, payload)
		if err != nil {
			return err
		}
		if _, err := s.Transport.Send(frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) recvResult(timeoutMS int) (wire.ResultHeader, []float32, error) {
	// The first frame may be a single-frame RESULT, whose payload can be as
	// large as the single-frame ceiling (ResultHeader + samples up to
	// MaxFrameBytes-HeaderSize); a chunked RESULT's first frame still fits
	// well within that bound, so the wider cap is safe for either case.
	h, payload, err := wire.ReadFrame(s.Transport, timeoutMS, wire.MaxFrameBytes-wire.HeaderSize)
	if err != nil {
		return wire.ResultHeader{}, nil, err
	}
	if h.Type == wire.FrameError {
		em, _ := wire.DecodeError(payload)
		return wire.ResultHeader{}, nil, &adapterError{code: em.Code, message: em.Message}
	}
	if h.Type != wire.FrameResult {
		return wire.ResultHeader{}, nil, errUnexpectedFrameType(h.Type, wire.FrameResult)
	}
	if h.Flags&wire.ResultChunkedFlag == 0 {
		rh, err := wire.DecodeResultHeader(payload)
		if err != nil {
			return wire.ResultHeader{}, nil, err
		}
		raw := payload[wire.ResultHeaderSize:]
		s.resultSamples = s.loadResultSamples(raw)
		return rh, s.resultSamples, nil
	}

	// Chunked: the first chunk's payload is ChunkHeader + (ResultHeader +
	// leading sample bytes); subsequent chunks are ChunkHeader + sample
	// bytes only, per the adapter's sendChunkedResult framing.
	reassembleStart := nowNS()
	ch := wire.DecodeChunkHeader(payload)
	s.resReasm.Reset(ch.Sequence)
	done, err := s.resReasm.Feed(ch, payload[wire.ChunkHeaderSize:])
	if err != nil {
		return wire.ResultHeader{}, nil, err
	}
	for !done {
		h, payload, err = wire.ReadFrame(s.Transport, timeoutMS, wire.ChunkHeaderSize+wire.MaxChunkBytes)
		if err != nil {
			if transport.IsConnReset(err) {
				return wire.ResultHeader{}, nil, wire.ErrIncomplete
			}
			return wire.ResultHeader{}, nil, err
		}
		if h.Type != wire.FrameResult {
			return wire.ResultHeader{}, nil, errUnexpectedFrameType(h.Type, wire.FrameResult)
		}
		ch = wire.DecodeChunkHeader(payload)
		done, err = s.resReasm.Feed(ch, payload[wire.ChunkHeaderSize:])
		if err != nil {
			return wire.ResultHeader{}, nil, err
		}
	}
	total := s.resReasm.Bytes()
	rh, err := wire.DecodeResultHeader(total)
	if err != nil {
		return wire.ResultHeader{}, nil, err
	}
	raw := total[wire.ResultHeaderSize:]
	s.resultSamples = s.loadResultSamples(raw)
	metrics.ChunkReassemblyHistogram.Observe(time.Duration(nowNS() - reassembleStart).Seconds())
	return rh, s.resultSamples, nil
}

// loadResultSamples decodes raw into s.resultSamples, reusing its backing
// array across calls when large enough.
func (s *Session) loadResultSamples(raw []byte) []float32 {
	n := len(raw) / 4
	if cap(s.resultSamples) < n {
		s.resultSamples = make([]float32, n)
	} else {
		s.resultSamples = s.resultSamples[:n]
	}
	wire.LoadF32Slice(s.resultSamples, raw, 0, n)
	return s.resultSamples
}

// Teardown closes the transport to signal end-of-stream,
// waits a bounded time for the adapter to exit, and reaps it. On timeout it
// force-terminates the process. Grounded on the teacher's saver package's
// WaitGroup-bounded shutdown discipline (saver.go's svr.Done.Wait()).
func (s *Session) Teardown(wait time.Duration) error {
	closeErr := s.Transport.Close()
	if s.cmd == nil {
		return closeErr
	}
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		if closeErr != nil {
			return closeErr
		}
		return err
	case <-time.After(wait):
		if err := s.cmd.Process.Kill(); err != nil {
			log.Printf("devicecomm: failed to kill adapter process: %v", err)
		}
		<-done
		return ErrRunAborted
	}
}

// randSessionID derives a session id from a random UUID rather than a bare
// math/rand draw, so session ids carry the same collision-resistance a
// cross-process/cross-host identifier needs (Dispatch reports a RESULT whose
// session_id differs from the one sent in CONFIG as ErrSessionMismatch).
func randSessionID() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8])
}

func nowNS() int64 { return time.Now().UnixNano() }

type adapterError struct {
	code    uint32
	message string
}

func (e *adapterError) Error() string { return "devicecomm: adapter reported ERROR: " + e.message }

type unexpectedFrameTypeErr struct {
	got, want wire.FrameType
}

func (e *unexpectedFrameTypeErr) Error() string {
	return "devicecomm: expected " + e.want.String() + " frame, got " + e.got.String()
}

func errUnexpectedFrameType(got, want wire.FrameType) error {
	return &unexpectedFrameTypeErr{got: got, want: want}
}
