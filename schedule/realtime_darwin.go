//go:build darwin

package schedule

import "errors"

// tryRealTimeFIFO reports unsupported on Darwin: no real-time scheduling
// policy binding is reachable from golang.org/x/sys/unix on this platform.
func tryRealTimeFIFO() error {
	return errors.New("schedule: real-time scheduling policy not supported on darwin")
}
