// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

//go:build !unix

package simlaunch

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(p *os.Process) error {
	return p.Kill()
}
