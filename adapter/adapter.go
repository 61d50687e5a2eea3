// Package adapter implements the per-run adapter runtime (spec §4.5): the
// process that hosts exactly one kernel, speaks the wire protocol over a
// transport, and stamps the device-side timestamps the harness correlates
// against its own release/deadline timestamps.
package adapter

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cortexbench/cortex/kernel"
	"github.com/cortexbench/cortex/telemetry/metrics"
	"github.com/cortexbench/cortex/transport"
	"github.com/cortexbench/cortex/wire"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// DefaultHelloTimeoutMS bounds how long the adapter waits for CONFIG after
// sending HELLO.
const DefaultHelloTimeoutMS = 5000

// DefaultWindowTimeoutMS bounds how long the adapter waits for a complete
// WINDOW_CHUNK transfer before tearing down (spec §4.5 step 7).
const DefaultWindowTimeoutMS = 10000

// Runtime hosts one kernel for the lifetime of a run: handshake, init,
// window loop, teardown. It owns the kernel handle exclusively; nothing
// else may call into the kernel concurrently (spec §6, single-threaded
// adapter loop).
type Runtime struct {
	AdapterID         string
	BootID            uint64
	Transport         transport.Transport
	WindowTimeoutMS   int
	AdvertisedKernels []string

	kern      kernel.Kernel
	handle    kernel.Handle
	sessionID uint64
	sequence  uint32
	outBuf    []float32
	outputW   uint32
	outputC   uint32

	// Buffers below are allocated once CONFIG/ACK settle the window and
	// output shapes, and reused across every window in the run rather than
	// reallocated per window; frame reads and encodes still allocate.
	winReasm     *wire.Reassembler
	winSamples   []float32
	sampleBytes  []byte
	resultBuf    []byte
	chunkScratch []byte
}

// ErrKernelInitFailed wraps whatever the kernel's Init returned, for
// reporting as ERROR(KERNEL_INIT_FAILED).
var ErrKernelInitFailed = errors.New("adapter: kernel init failed")

// errUnexpectedFrameType signals a protocol sequencing violation: the peer
// sent a frame type the current handshake/loop state did not expect.
type errUnexpectedFrameType struct {
	got, want wire.FrameType
}

func (e *errUnexpectedFrameType) Error() string {
	return "adapter: expected " + e.want.String() + " frame, got " + e.got.String()
}

// NewRuntime constructs a Runtime ready to run the handshake. advertised
// lists the spec_uris this adapter can serve; the harness's CONFIG
// selects one by plugin id.
func NewRuntime(adapterID string, bootID uint64, t transport.Transport, advertised []string) *Runtime {
	return &Runtime{
		AdapterID:         adapterID,
		BootID:            bootID,
		Transport:         t,
		WindowTimeoutMS:   DefaultWindowTimeoutMS,
		AdvertisedKernels: advertised,
	}
}

// Run drives the full adapter lifecycle: HELLO, receive CONFIG, resolve and
// init the kernel, ACK, then the window loop until timeout or peer close.
// It returns nil on a clean peer-initiated shutdown; any other return is a
// fatal condition the caller (cmd/adapter's main) should exit non-zero on.
func (r *Runtime) Run() error {
	if err := r.sendHello(); err != nil {
		return err
	}
	cfg, err := r.recvConfig()
	if err != nil {
		return err
	}
	if err := r.initKernel(cfg); err != nil {
		r.sendError(wire.ErrCodeKernelInitFailed, err.Error())
		return fmt.Errorf("%w: %v", ErrKernelInitFailed, err)
	}
	if err := r.sendAck(); err != nil {
		return err
	}
	return r.windowLoop()
}

func (r *Runtime) sendHello() error {
	payload := wire.EncodeHello(wire.Hello{
		BootID:           r.BootID,
		AdapterID:        r.AdapterID,
		ABIVersion:       kernel.ABIVersion,
		MaxWindowSamples: wire.MaxWindowBytes / 4,
		MaxChannels:      1024,
		Kernels:          r.AdvertisedKernels,
	})
	return r.sendFrame(wire.FrameHello, payload)
}

func (r *Runtime) recvConfig() (wire.Config, error) {
	h, payload, err := wire.ReadFrame(r.Transport, DefaultHelloTimeoutMS, wire.MaxFrameBytes-wire.HeaderSize)
	if err != nil {
		return wire.Config{}, err
	}
	if h.Type != wire.FrameConfig {
		return wire.Config{}, &errUnexpectedFrameType{got: h.Type, want: wire.FrameConfig}
	}
	cfg, err := wire.DecodeConfig(payload)
	if err != nil {
		return wire.Config{}, err
	}
	r.sessionID = cfg.SessionID
	windowBytes := int(cfg.W) * int(cfg.C) * 4
	r.winReasm = wire.NewReassembler(0, windowBytes)
	r.winSamples = make([]float32, 0, int(cfg.W)*int(cfg.C))
	r.chunkScratch = make([]byte, wire.ChunkHeaderSize+wire.MaxChunkBytes)
	return cfg, nil
}

func (r *Runtime) initKernel(cfg wire.Config) error {
	k, err := kernel.Resolve(cfg.PluginID)
	if err != nil {
		return err
	}
	res, err := k.Init(kernel.Config{
		ABIVersion:       kernel.ABIVersion,
		StructSize:       0,
		Fs:               cfg.Fs,
		W:                cfg.W,
		H:                cfg.H,
		C:                cfg.C,
		DType:            kernel.DType(cfg.DType),
		Params:           []byte(cfg.Params),
		CalibrationState: cfg.CalibrationState,
	})
	if err != nil {
		return err
	}
	r.kern = k
	r.handle = res.Handle
	r.outputW, r.outputC = res.OutputW, res.OutputC
	r.outBuf = make([]float32, res.OutputW*res.OutputC)
	r.sampleBytes = make([]byte, res.OutputW*res.OutputC*4)
	r.resultBuf = make([]byte, wire.ResultHeaderSize+len(r.sampleBytes))
	return nil
}

func (r *Runtime) sendAck() error {
	payload := wire.EncodeAck(wire.Ack{OutputW: r.outputW, OutputC: r.outputC})
	return r.sendFrame(wire.FrameAck, payload)
}

// windowLoop receives one chunked window per iteration, runs the kernel,
// and replies with RESULT, stamping every device-side timestamp spec §4.5
// and §6 require. It returns nil when the peer closes cleanly or the
// window-receive times out (both a normal run end here; the harness side
// is what decides whether a run ended early), and a non-nil error on any
// protocol violation.
func (r *Runtime) windowLoop() error {
	defer r.teardown()
	for {
		samples, sequence, err := r.recvWindow()
		if err != nil {
			if transport.IsTimeout(err) || transport.IsConnReset(err) {
				return nil
			}
			return err
		}
		tIn := nowNS()
		tStart := nowNS()
		if err := r.kern.Process(r.handle, samples, r.outBuf); err != nil {
			r.sendError(wire.ErrCodeKernelExecFailed, err.Error())
			return err
		}
		tEnd := nowNS()
		tFirstTx := nowNS()
		// t_last_tx cannot be measured before the bytes carrying it are
		// formed, so it is approximated here as t_first_tx; the harness
		// has its own end_ts stamped after RESULT actually arrives.
		if err := r.sendResult(sequence, tIn, tStart, tEnd, tFirstTx, tFirstTx); err != nil {
			return err
		}
		r.sequence++
	}
}

// recvWindow reassembles one chunked WINDOW_CHUNK transfer and decodes it
// as row-major float32 samples.
func (r *Runtime) recvWindow() ([]float32, uint32, error) {
	reassembleStart := nowNS()
	h, payload, err := wire.ReadFrame(r.Transport, r.WindowTimeoutMS, wire.ChunkHeaderSize+wire.MaxChunkBytes)
	if err != nil {
		return nil, 0, err
	}
	if h.Type != wire.FrameWindowChunk {
		return nil, 0, &errUnexpectedFrameType{got: h.Type, want: wire.FrameWindowChunk}
	}
	if len(payload) < wire.ChunkHeaderSize {
		return nil, 0, wire.ErrBufferTooSmall
	}
	ch := wire.DecodeChunkHeader(payload)
	r.winReasm.Reset(ch.Sequence)
	done, err := r.winReasm.Feed(ch, payload[wire.ChunkHeaderSize:])
	if err != nil {
		return nil, 0, err
	}
	for !done {
		h, payload, err = wire.ReadFrame(r.Transport, r.WindowTimeoutMS, wire.ChunkHeaderSize+wire.MaxChunkBytes)
		if err != nil {
			if transport.IsConnReset(err) {
				return nil, 0, wire.ErrIncomplete
			}
			return nil, 0, err
		}
		if h.Type != wire.FrameWindowChunk {
			return nil, 0, &errUnexpectedFrameType{got: h.Type, want: wire.FrameWindowChunk}
		}
		if len(payload) < wire.ChunkHeaderSize {
			return nil, 0, wire.ErrBufferTooSmall
		}
		ch = wire.DecodeChunkHeader(payload)
		done, err = r.winReasm.Feed(ch, payload[wire.ChunkHeaderSize:])
		if err != nil {
			return nil, 0, err
		}
	}
	raw := r.winReasm.Bytes()
	n := len(raw) / 4
	if cap(r.winSamples) < n {
		r.winSamples = make([]float32, n)
	} else {
		r.winSamples = r.winSamples[:n]
	}
	wire.LoadF32Slice(r.winSamples, raw, 0, n)
	metrics.ChunkReassemblyHistogram.Observe(time.Duration(nowNS() - reassembleStart).Seconds())
	return r.winSamples, ch.Sequence, nil
}

// sendResult encodes and sends RESULT, chunked when the ResultHeader plus
// sample payload exceeds a single frame.
func (r *Runtime) sendResult(sequence uint32, tIn, tStart, tEnd, tFirstTx, tLastTx int64) error {
	wire.StoreF32Slice(r.sampleBytes, 0, r.outBuf)

	total := r.resultBuf
	rh := wire.ResultHeader{
		SessionID: r.sessionID,
		Sequence:  sequence,
		TIn:       uint64(tIn),
		TStart:    uint64(tStart),
		TEnd:      uint64(tEnd),
		TFirstTx:  uint64(tFirstTx),
		TLastTx:   uint64(tLastTx),
		OutputW:   r.outputW,
		OutputC:   r.outputC,
	}
	rh.Encode(total)
	copy(total[wire.ResultHeaderSize:], r.sampleBytes)

	if wire.HeaderSize+len(total) <= wire.MaxFrameBytes {
		frame, err := wire.EncodeFrameFlags(wire.FrameResult, 0, total)
		if err != nil {
			return err
		}
		_, err = r.Transport.Send(frame)
		return err
	}
	return r.sendChunkedResult(sequence, total)
}

func (r *Runtime) sendChunkedResult(sequence uint32, total []byte) error {
	chunks := wire.PlanChunks(len(total), wire.MaxChunkBytes)
	for i := range chunks {
		chunkLen := int(chunks[i].ChunkLength)
		payload := r.chunkScratch[:wire.ChunkHeaderSize+chunkLen]
		chunks[i].Sequence = sequence
		chunks[i].Encode(payload)
		copy(payload[wire.ChunkHeaderSize:], total[chunks[i].OffsetBytes:chunks[i].OffsetBytes+chunks[i].ChunkLength])
		frame, err := wire.EncodeFrameFlags(wire.FrameResult, wire.ResultChunkedFlag, payload)
		if err != nil {
			return err
		}
		if _, err := r.Transport.Send(frame); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) sendFrame(typ wire.FrameType, payload []byte) error {
	frame, err := wire.EncodeFrame(typ, payload)
	if err != nil {
		return err
	}
	_, err = r.Transport.Send(frame)
	return err
}

func (r *Runtime) sendError(code uint32, msg string) {
	payload := wire.EncodeError(wire.ErrorMsg{Code: code, Message: msg})
	if err := r.sendFrame(wire.FrameError, payload); err != nil {
		log.Printf("adapter: failed to send ERROR frame: %v", err)
	}
}

func nowNS() int64 { return time.Now().UnixNano() }

func (r *Runtime) teardown() {
	if r.kern != nil {
		if err := r.kern.Teardown(r.handle); err != nil {
			log.Printf("adapter: kernel teardown: %v", err)
		}
	}
}
