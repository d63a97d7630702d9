//go:build !windows

package shell

import (
	"os/exec"
	"syscall"
)

const defaultShell = "sh"

// configureCommand runs the command in its own process group so a timeout
// kills any children it spawned.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
