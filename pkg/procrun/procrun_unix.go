//go:build !windows

package procrun

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// configureProcess puts the child into its own process group and makes
// cancellation kill the whole group, so rsync's forked helpers (ssh, the
// remote-shell transport) go down with it.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
