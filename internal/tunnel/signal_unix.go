//go:build !windows

package tunnel

import "os"

func interruptSignal() os.Signal {
	return os.Interrupt
}
