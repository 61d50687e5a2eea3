//go:build linux

package transport

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

// setTermiosSpeed sets both input and output baud rate on Linux, where
// Termios carries explicit Ispeed/Ospeed fields alongside the Cflag speed
// bits.
func setTermiosSpeed(t *unix.Termios, rate uint32) {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= rate
	t.Ispeed = rate
	t.Ospeed = rate
}
