//go:build windows

package process

import (
	"fmt"
	"os"
)

// sendTerminationSignal asks the process to exit. Windows has no process
// group signal delivery from another process, so graceful shutdown relies
// on the unit handling the kill that follows.
func sendTerminationSignal(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	return process.Kill()
}

// killProcessGroup forcibly terminates the process.
func killProcessGroup(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	return process.Kill()
}
