package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// Serial is a POSIX termios-based serial port transport: 8 data bits, no
// parity, one stop bit (8N1), raw mode (no line discipline, no echo, no
// signal-generating characters). Timeout is enforced with the same
// readiness-polling helper LocalFD uses.
type Serial struct {
	f  *os.File
	fd int
}

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
}

// OpenSerial opens path (e.g. "/dev/ttyUSB0") and configures it for raw 8N1
// operation at the requested baud rate (default 115200 if baud is 0 or
// unrecognized).
func OpenSerial(path string, baud int) (*Serial, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, ioErr(err)
	}
	fd := int(f.Fd())

	rate, ok := baudRates[baud]
	if !ok {
		rate = unix.B115200
	}

	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		f.Close()
		return nil, ioErr(err)
	}
	makeRaw8N1(termios, rate)
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		f.Close()
		return nil, ioErr(err)
	}

	return &Serial{f: f, fd: fd}, nil
}

// makeRaw8N1 configures termios for raw mode with 8 data bits, no parity,
// one stop bit, and no software/hardware flow control.
func makeRaw8N1(t *unix.Termios, rate uint32) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	setTermiosSpeed(t, rate)
}

func (t *Serial) Send(b []byte) (int, error) {
	n, err := t.f.Write(b)
	if err != nil {
		return n, ioErr(err)
	}
	return n, nil
}

func (t *Serial) Recv(buf []byte, timeoutMS int) (int, error) {
	ready, err := pollReadable(t.fd, timeoutMS)
	if err != nil {
		return 0, ioErr(err)
	}
	if !ready {
		return 0, timeoutErr(nil)
	}
	n, err := t.f.Read(buf)
	if err != nil {
		return n, ioErr(err)
	}
	return n, nil
}

func (t *Serial) Close() error {
	return t.f.Close()
}

func (t *Serial) MonotonicNowNS() uint64 { return monotonicNowNS() }
