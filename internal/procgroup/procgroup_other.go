//go:build !unix

package procgroup

import "os/exec"

// Configure kills only the direct child; process groups are unix-only.
func Configure(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
