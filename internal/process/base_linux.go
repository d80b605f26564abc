//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr asks the kernel to SIGTERM the child when the test
// binary dies, so an aborted test run does not leave cluster processes behind.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
}
