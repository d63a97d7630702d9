//go:build windows

package shell

import "os/exec"

const defaultShell = "powershell"

// configureCommand is a no-op on Windows; exec.CommandContext kills the
// process on timeout.
func configureCommand(cmd *exec.Cmd) {}
