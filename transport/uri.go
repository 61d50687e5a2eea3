package transport

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default timeouts used by URI-dispatched construction. Callers needing
// different timeouts should call the scheme-specific constructors directly.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultAcceptTimeout  = 5 * time.Second
)

// Dial constructs a Transport from uri for the given side. The URI scheme
// selects the implementation:
//
//	local://                                   paired local FDs
//	tcp://host:port                            harness connects (forbidden for SideAdapter)
//	tcp://:port[?accept_timeout_ms=N]          adapter listens (forbidden for SideHarness)
//	serial:///dev/PATH[?baud=N]                serial port, default baud 115200
//	shm://name                                  shared-memory ring pair
//
// The asymmetry of the tcp:// forms is enforced statically: an adapter
// presented with a connect-form URI, or a harness presented with a
// listen-form URI, gets ErrWrongSideForm rather than silently doing the
// wrong thing.
func Dial(uri string, side Side) (Transport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, ErrMalformedURI
	}
	switch u.Scheme {
	case "local":
		return NewLocalFDStdio(), nil
	case "tcp":
		return dialTCP(u, side)
	case "serial":
		return dialSerial(u)
	case "shm":
		name := u.Host
		if name == "" {
			name = strings.TrimPrefix(u.Path, "/")
		}
		if name == "" {
			return nil, ErrMalformedURI
		}
		return OpenSHM(name, side == SideHarness)
	default:
		return nil, ErrUnknownScheme
	}
}

func dialTCP(u *url.URL, side Side) (Transport, error) {
	host := u.Hostname()
	if host == "" {
		// "tcp://:port" — listen form.
		if side == SideHarness {
			return nil, ErrWrongSideForm
		}
		acceptTimeout := DefaultAcceptTimeout
		if v := u.Query().Get("accept_timeout_ms"); v != "" {
			if ms, err := strconv.Atoi(v); err == nil {
				acceptTimeout = time.Duration(ms) * time.Millisecond
			}
		}
		return ListenTCPServer(":"+u.Port(), acceptTimeout)
	}
	// "tcp://host:port" — connect form.
	if side == SideAdapter {
		return nil, ErrWrongSideForm
	}
	return DialTCPClient(u.Host, DefaultConnectTimeout)
}

func dialSerial(u *url.URL) (Transport, error) {
	path := u.Path
	if path == "" {
		return nil, ErrMalformedURI
	}
	baud := 115200
	if v := u.Query().Get("baud"); v != "" {
		if b, err := strconv.Atoi(v); err == nil {
			baud = b
		}
	}
	return OpenSerial(path, baud)
}
