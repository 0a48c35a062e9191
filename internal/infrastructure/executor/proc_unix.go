//go:build unix

package executor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcessGroup starts the shell in its own group so a timeout kills every child.
func configureProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		if err := unix.Kill(-c.Process.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			return c.Process.Kill()
		}
		return nil
	}
}
