//go:build unix

// Package procgroup makes context cancellation of an external command reach
// every process it spawned.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Configure places cmd in its own process group and makes cancellation kill
// the whole group.
func Configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
