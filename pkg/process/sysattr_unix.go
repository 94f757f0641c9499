//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes places the child in its own process group so that
// termination signals sent to -pid reach the entire process tree.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
