//go:build windows

package localexec

import (
	"os/exec"
)

func configureProcGroup(cmd *exec.Cmd) {
	// Windows has no process groups in the POSIX sense.
}

// terminateGroup has no graceful equivalent on Windows, so it kills the process.
func terminateGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
