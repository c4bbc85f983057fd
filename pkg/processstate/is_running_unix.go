//go:build !windows

package processstate

import (
	"fmt"
	"os"
	"syscall"
)

// IsRunning reports whether a process with the given PID exists.
func IsRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	// os.FindProcess always succeeds on Unix, so probe with signal 0
	// to learn whether the process actually exists.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if err.Error() == "os: process already finished" {
		return false, nil
	}
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false, err
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		// Exists, but owned by someone else.
		return true, nil
	}
	return false, err
}
