//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes creates the child in its own process group so it
// does not share console signals with the control plane.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
