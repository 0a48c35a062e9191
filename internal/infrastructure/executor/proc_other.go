//go:build !unix

package executor

import "os/exec"

func configureProcessGroup(c *exec.Cmd) {
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return c.Process.Kill()
	}
}
