//go:build darwin

package transport

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

// setTermiosSpeed sets the baud rate on Darwin by writing it to the
// Ispeed/Ospeed fields; the Cflag baud bits are left unchanged.
func setTermiosSpeed(t *unix.Termios, rate uint32) {
	t.Ispeed = rate
	t.Ospeed = rate
}
