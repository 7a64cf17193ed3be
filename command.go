// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"path/filepath"
	"strconv"
)

// A Command is the fully resolved invocation of the simulator for one work
// item.
type Command struct {
	Path   string
	Args   []string
	Output string
}

// BuildCommand returns the simulator invocation for item. It has no side
// effects and always yields the same Command for the same inputs, which is
// what makes skipping items with existing output safe across runs.
func BuildCommand(spec *JobSpec, item WorkItem) Command {
	return Command{
		Path: spec.ExecutablePath(),
		Args: []string{
			"--warmup_instructions", strconv.FormatUint(spec.WarmupInstructions, 10),
			"--simulation_instructions", strconv.FormatUint(spec.SimulationInstructions, 10),
			"--trace", filepath.Join(spec.TraceDir, item.Trace),
		},
		Output: item.Output,
	}
}
