// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// Outcome distinguishes a run that finished all of its work from one that was
// cut short.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// A Report summarizes one dispatch run.
type Report struct {
	RunID      string
	Executable string
	Started    time.Time
	Finished   time.Time
	Outcome    Outcome

	// States holds the latest state of every submitted trace.
	States map[string]ItemState

	// PeakRunning is the highest number of simulators that ran at once.
	PeakRunning int

	// Errors collects the per-item [*LaunchError] and [*ExitError] values
	// encountered during the run.
	Errors *multierror.Error
}

// Count returns the number of traces whose latest state is s.
func (r *Report) Count(s ItemState) int {
	n := 0
	for _, v := range r.States {
		if v == s {
			n++
		}
	}
	return n
}

// Err returns the collected per-item errors, or nil if there were none.
func (r *Report) Err() error {
	return r.Errors.ErrorOrNil()
}

// Failed reports whether any item ended in a state other than Completed or
// Skipped.
func (r *Report) Failed() bool {
	for _, v := range r.States {
		switch v {
		case Completed, Skipped:
		default:
			return true
		}
	}
	return false
}
