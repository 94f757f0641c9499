//go:build windows

package process

import (
	"fmt"
	"syscall"
)

const (
	stillActive                    = 259
	processQueryLimitedInformation = 0x1000
)

// isProcessRunning checks the process exit code through a minimal-rights
// handle; STILL_ACTIVE means the process is alive.
func isProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	handle, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false, err
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, err
	}
	return exitCode == stillActive, nil
}
