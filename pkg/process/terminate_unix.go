//go:build !windows

package process

import (
	"syscall"
)

// sendTerminationSignal sends SIGTERM to the process group (negative PID)
// so the whole process tree gets a chance to shut down cleanly.
func sendTerminationSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup forcibly terminates the process group.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
