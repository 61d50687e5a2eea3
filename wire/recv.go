package wire

import (
	"errors"

	"github.com/cortexbench/cortex/telemetry/metrics"
)

// ByteSource is the minimal read side of a transport, as consumed by the
// frame receive path. transport.Transport implementations satisfy this
// structurally.
type ByteSource interface {
	// Recv reads into buf, blocking at most timeoutMS milliseconds. It
	// returns the number of bytes read (which may be less than len(buf))
	// and an error — typically one of transport's TIMEOUT/CONN_RESET/IO
	// kinds, or nil.
	Recv(buf []byte, timeoutMS int) (int, error)
	// MonotonicNowNS returns the source's monotonic clock in nanoseconds,
	// used to enforce a single wall-clock deadline across the hunt,
	// header, and payload phases of a receive.
	MonotonicNowNS() uint64
}

// ErrReadTimeout is returned when ReadFrame's overall deadline elapses
// before a complete, valid frame is assembled.
var ErrReadTimeout = errors.New("wire: read timed out before a frame completed")

// ReadFrame hunts for MAGIC, reads the frame header and payload, and
// verifies the CRC, all within a single overall deadline of timeoutMS
// milliseconds. maxPayload bounds payload_length (ordinarily MaxFrameBytes -
// HeaderSize for single frames).
//
// Bytes preceding MAGIC are silently discarded — they are reserved for
// future framing and currently considered noise, not an error. A resync may
// span multiple underlying Recv calls.
func ReadFrame(src ByteSource, timeoutMS int, maxPayload int) (Header, []byte, error) {
	deadline := src.MonotonicNowNS() + uint64(timeoutMS)*1_000_000

	headBuf := make([]byte, HeaderSize)
	found := 0 // number of correct magic bytes matched so far, in headBuf[0:found]
	one := make([]byte, 1)

	for found < 4 {
		remaining := remainingMS(src, deadline)
		if remaining <= 0 {
			return Header{}, nil, ErrReadTimeout
		}
		n, err := src.Recv(one, remaining)
		if err != nil {
			return Header{}, nil, err
		}
		if n == 0 {
			continue
		}
		b := one[0]
		expected := byte(Magic >> (8 * found))
		if b == expected {
			headBuf[found] = b
			found++
		} else if found > 0 {
			// Mismatch mid-sequence: restart the hunt, but this byte might
			// itself be the start of a fresh match.
			found = 0
			if b == byte(Magic) {
				headBuf[0] = b
				found = 1
			}
		}
	}

	if err := readFull(src, headBuf[4:], deadline); err != nil {
		return Header{}, nil, err
	}
	h := DecodeHeader(headBuf)
	if h.Version != Version {
		return Header{}, nil, ErrVersionMismatch
	}
	if int(h.PayloadLength) > maxPayload {
		return Header{}, nil, ErrPayloadTooLarge
	}
	payload := make([]byte, h.PayloadLength)
	if err := readFull(src, payload, deadline); err != nil {
		return Header{}, nil, err
	}
	if !VerifyCRC(h, payload) {
		metrics.CRCFailureCount.Inc()
		return h, payload, ErrCRCMismatch
	}
	return h, payload, nil
}

func readFull(src ByteSource, buf []byte, deadline uint64) error {
	got := 0
	for got < len(buf) {
		remaining := remainingMS(src, deadline)
		if remaining <= 0 {
			return ErrReadTimeout
		}
		n, err := src.Recv(buf[got:], remaining)
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

func remainingMS(src ByteSource, deadline uint64) int {
	now := src.MonotonicNowNS()
	if now >= deadline {
		return 0
	}
	remNS := deadline - now
	ms := remNS / 1_000_000
	if ms == 0 {
		ms = 1
	}
	if ms > 1<<31-1 {
		ms = 1 << 31 - 1
	}
	return int(ms)
}
