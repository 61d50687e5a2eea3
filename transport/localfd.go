package transport

import (
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// LocalFD is the paired-file-descriptor transport used when the harness
// spawns an adapter on the same host and inherits one end of a socket pair
// as the adapter's stdin/stdout. Timeout is enforced by readiness polling
// on the read end before every read, mirroring the non-blocking-plus-poll
// pattern the teacher package uses around raw socket descriptors.
type LocalFD struct {
	r, w   *os.File
	rawFD  int
	ownsR  bool
	ownsW  bool
}

// stdioFDs are never closed by LocalFD.Close, because the adapter process
// relies on them remaining open for its own logging and lifecycle.
var stdioFDs = map[int]bool{0: true, 1: true, 2: true}

// NewLocalFD wraps an existing pair of file descriptors (or a single
// bidirectional one, passed as both r and w) as a Transport. ownsFDs
// controls whether Close actually closes the descriptors — the harness
// side, which typically holds the parent's end of a socketpair, usually
// owns them; an adapter using inherited stdin/stdout does not, since those
// descriptors belong to the process itself.
func NewLocalFD(r, w *os.File, ownsFDs bool) *LocalFD {
	return &LocalFD{r: r, w: w, rawFD: int(r.Fd()), ownsR: ownsFDs, ownsW: ownsFDs}
}

// NewLocalFDStdio wraps the adapter's inherited stdin/stdout as a Transport.
// This is the adapter runtime's default transport when no explicit URI is
// configured.
func NewLocalFDStdio() *LocalFD {
	return NewLocalFD(os.Stdin, os.Stdout, false)
}

func (t *LocalFD) Send(b []byte) (int, error) {
	n, err := t.w.Write(b)
	if err != nil {
		if isBrokenPipe(err) {
			return n, connResetErr(err)
		}
		return n, ioErr(err)
	}
	return n, nil
}

func (t *LocalFD) Recv(buf []byte, timeoutMS int) (int, error) {
	ready, err := pollReadable(t.rawFD, timeoutMS)
	if err != nil {
		return 0, ioErr(err)
	}
	if !ready {
		return 0, timeoutErr(nil)
	}
	n, err := t.r.Read(buf)
	if err != nil {
		if err == io.EOF {
			return n, connResetErr(err)
		}
		return n, ioErr(err)
	}
	return n, nil
}

func (t *LocalFD) Close() error {
	var err error
	if t.ownsR && !stdioFDs[int(t.r.Fd())] {
		if e := t.r.Close(); e != nil {
			err = e
		}
	}
	if t.ownsW && t.w != t.r && !stdioFDs[int(t.w.Fd())] {
		if e := t.w.Close(); e != nil {
			err = e
		}
	}
	return err
}

func (t *LocalFD) MonotonicNowNS() uint64 { return monotonicNowNS() }

// processStart anchors monotonicNowNS to time.Since rather than
// time.Now().UnixNano(): the latter is a wall-clock reading an NTP step can
// move backward mid-run, which would corrupt a deadline computed from it.
// time.Time retains a monotonic reading since Go 1.9, and Sub/Since use it
// when both operands carry one, so this is immune to wall-clock steps.
var processStart = time.Now()

func monotonicNowNS() uint64 { return uint64(time.Since(processStart)) }

// pollReadable blocks up to timeoutMS for fd to become readable.
func pollReadable(fd int, timeoutMS int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		return true, nil // let the subsequent Read surface EOF/CONN_RESET
	}
	return fds[0].Revents&unix.POLLIN != 0, nil
}

func isBrokenPipe(err error) bool {
	return err == unix.EPIPE || err == unix.ECONNRESET
}
