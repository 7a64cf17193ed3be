// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

// ItemState is the lifecycle state of a single work item within a run.
type ItemState int

const (
	Pending      ItemState = iota // Not yet submitted
	Skipped                       // Completion evidence already present
	Running                       // Simulator process launched
	Completed                     // Simulator exited with status zero
	Failed                        // Simulator exited with a non-zero status
	TimedOut                      // Simulator killed after exceeding the timeout
	LaunchFailed                  // Simulator could not be started
	Aborted                       // Simulator killed by an abort
)

var itemStateNames = [...]string{
	Pending:      "pending",
	Skipped:      "skipped",
	Running:      "running",
	Completed:    "completed",
	Failed:       "failed",
	TimedOut:     "timed-out",
	LaunchFailed: "launch-failed",
	Aborted:      "aborted",
}

func (s ItemState) String() string {
	if s < 0 || int(s) >= len(itemStateNames) {
		return "unknown"
	}
	return itemStateNames[s]
}

// Terminal reports whether the state can no longer change within a run,
// retries aside.
func (s ItemState) Terminal() bool {
	return s != Pending && s != Running
}

// Phase is the overall state of a dispatch run.
type Phase int

const (
	PhaseFilling  Phase = iota // Launching while slots and work remain
	PhaseDraining              // Work exhausted, waiting for in-flight simulators
	PhaseDone                  // All work finished
	PhaseAborting              // Killing in-flight simulators
	PhaseAborted               // Abort finished
)

var phaseNames = [...]string{
	PhaseFilling:  "filling",
	PhaseDraining: "draining",
	PhaseDone:     "done",
	PhaseAborting: "aborting",
	PhaseAborted:  "aborted",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
