// Package transport implements the bidirectional byte-stream abstraction
// that the wire protocol rides on: paired local file descriptors, TCP
// client/server, serial, and shared-memory ring variants, selected by URI.
//
// Callers never cast connection-specific buffers to struct pointers; all
// protocol framing lives in package wire and talks to a Transport only
// through Send/Recv/Close/MonotonicNowNS.
package transport

import (
	"errors"
	"fmt"
)

// ErrKind classifies a transport failure the way callers need to react to
// it (spec §7): TIMEOUT is recoverable, CONN_RESET and IO are not.
type ErrKind int

// Error kinds.
const (
	KindTimeout ErrKind = iota
	KindConnReset
	KindIO
)

func (k ErrKind) String() string {
	switch k {
	case KindTimeout:
		return "TIMEOUT"
	case KindConnReset:
		return "CONN_RESET"
	case KindIO:
		return "IO"
	default:
		return "UNKNOWN"
	}
}

// Error wraps an underlying transport failure with its ErrKind.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is (or wraps) a TIMEOUT transport error.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsConnReset reports whether err is (or wraps) a CONN_RESET transport error.
func IsConnReset(err error) bool { return kindOf(err) == KindConnReset }

func kindOf(err error) ErrKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindIO
}

func timeoutErr(err error) error   { return &Error{Kind: KindTimeout, Err: err} }
func connResetErr(err error) error { return &Error{Kind: KindConnReset, Err: err} }
func ioErr(err error) error        { return &Error{Kind: KindIO, Err: err} }

// Transport is a bidirectional reliable byte stream with bounded-timeout
// recv, used uniformly by the harness (devicecomm) and the adapter runtime
// regardless of whether the peer is a local process, a TCP peer, a serial
// device, or a shared-memory ring.
type Transport interface {
	// Send writes all of b, returning the number of bytes sent (== len(b)
	// on success) or a transport Error.
	Send(b []byte) (int, error)
	// Recv reads into buf, blocking at most timeoutMS milliseconds. It
	// returns the number of bytes read, which may be less than len(buf)
	// on a partial read; callers must tolerate partial reads. A recv
	// that reads zero bytes before the timeout elapses returns a
	// KindTimeout Error.
	Recv(buf []byte, timeoutMS int) (int, error)
	// Close releases OS resources owned by this Transport. Close must
	// never close file descriptors 0, 1, or 2.
	Close() error
	// MonotonicNowNS returns this transport's view of monotonic time, in
	// nanoseconds, used to stamp protocol timestamps and to bound
	// multi-call receive deadlines.
	MonotonicNowNS() uint64
}

// Side identifies which end of a transport URI a caller is constructing:
// the adapter (device side) or the harness. The two sides are asymmetric
// for TCP URIs — the adapter listens, the harness connects — and Dial
// statically rejects the wrong form for a given side.
type Side int

// Sides.
const (
	SideHarness Side = iota
	SideAdapter
)

// Errors returned by URI dispatch.
var (
	ErrUnknownScheme  = errors.New("transport: unknown URI scheme")
	ErrWrongSideForm  = errors.New("transport: this URI form is not permitted on this side")
	ErrMalformedURI   = errors.New("transport: malformed URI")
)
