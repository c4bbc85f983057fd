//go:build !windows

package process

import (
	"syscall"
	"time"
)

// SendTerminationSignal asks the process group to shut down gracefully.
// The negative PID targets the whole group created at spawn time.
func SendTerminationSignal(pid int, timeout time.Duration) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}
