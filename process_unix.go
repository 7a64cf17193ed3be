// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

//go:build unix

package simlaunch

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// Each simulator leads its own process group, so that wrapper scripts can be
// killed along with everything they started and a terminal's interrupt
// reaches only the harness.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
