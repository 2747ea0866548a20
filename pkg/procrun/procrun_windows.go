//go:build windows

package procrun

import (
	"os/exec"

	"golang.org/x/sys/windows"
)

// configureProcess starts the child in a new process group so console
// interrupts aimed at us are not delivered to it twice.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}
