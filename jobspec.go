// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
)

// DefaultBinDir is the executable search directory used when
// [JobSpec.BinDir] is empty.
const DefaultBinDir = "bin"

// Instruction counts used by the command line and campaign files when none
// are given.
const (
	DefaultWarmupInstructions     = 10_000_000
	DefaultSimulationInstructions = 100_000_000
)

// A JobSpec holds the launch parameters shared by every work item of one
// dispatch run. It is created once per invocation and must not be modified
// while a [Dispatcher] is using it.
type JobSpec struct {
	// Executable is the simulator's file name within BinDir.
	Executable string

	// BinDir is the directory searched for Executable. Defaults to
	// [DefaultBinDir].
	BinDir string

	WarmupInstructions     uint64
	SimulationInstructions uint64

	// TraceList is a text file naming one trace per line.
	TraceList string

	// TraceDir is the directory holding the traces named in TraceList.
	TraceDir string

	// ResultsDir receives one log per trace. Defaults to
	// "results_<Executable>".
	ResultsDir string

	// BatchSize is the concurrency ceiling. Values less than one mean
	// runtime.NumCPU().
	BatchSize int

	// Timeout limits the wall-clock time of each simulator process. Zero
	// means no limit.
	Timeout time.Duration

	// Retries is the number of times an item whose simulator exited non-zero
	// or timed out is put back at the end of the queue and launched again.
	Retries int

	// RequireMarker makes a trace count as done only if its log is
	// accompanied by a completion marker, rather than whenever its log
	// exists.
	RequireMarker bool
}

func (s *JobSpec) binDir() string {
	if s.BinDir == "" {
		return DefaultBinDir
	}
	return s.BinDir
}

// ExecutablePath returns the path of the simulator binary.
func (s *JobSpec) ExecutablePath() string {
	return filepath.Join(s.binDir(), s.Executable)
}

// OutputDir returns the directory that receives the per-trace logs.
func (s *JobSpec) OutputDir() string {
	if s.ResultsDir != "" {
		return s.ResultsDir
	}
	return "results_" + s.Executable
}

// Ceiling returns the maximum number of simulators allowed to run at once.
func (s *JobSpec) Ceiling() int {
	if s.BatchSize < 1 {
		return runtime.NumCPU()
	}
	return s.BatchSize
}

// Validate reports every problem with the spec that would prevent a run
// from starting. The returned error matches [ErrConfig].
func (s *JobSpec) Validate() error {
	var result *multierror.Error
	if s.Executable == "" {
		result = multierror.Append(result, errors.New("executable name is empty"))
	} else if err := checkExecutable(s.ExecutablePath()); err != nil {
		result = multierror.Append(result, err)
	}
	if s.TraceList == "" {
		result = multierror.Append(result, errors.New("trace list path is empty"))
	}
	if s.SimulationInstructions == 0 {
		result = multierror.Append(result, errors.New("simulation instruction count must be positive"))
	}
	if s.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout %v is negative", s.Timeout))
	}
	if s.Retries < 0 {
		result = multierror.Append(result, fmt.Errorf("retry count %d is negative", s.Retries))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("executable: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("executable %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("executable %s is not executable", path)
	}
	return nil
}
