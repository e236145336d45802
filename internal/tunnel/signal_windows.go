//go:build windows

package tunnel

import "os"

// os.Interrupt is not deliverable via Process.Signal on Windows; Kill is
// the only portable option there, so graceful stop is a no-op grace
// window before the forced kill in process.stop.
func interruptSignal() os.Signal {
	return os.Kill
}
