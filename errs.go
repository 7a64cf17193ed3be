// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"fmt"
	"syscall"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrConfig is matched by every error that stops a dispatch before any
// simulator is launched, such as an unreadable trace list or a missing
// executable.
const ErrConfig = constError("invalid configuration")

// ErrAborted is returned by [Dispatcher.Run] when its context was canceled
// before all work completed. The returned error also matches the context's
// cancellation cause.
const ErrAborted = constError("dispatch aborted")

const ErrLaunch = constError("simulator launch failed")
const ErrExit = constError("simulator exited abnormally")
const ErrTimeout = constError("simulator timed out")
const ErrDuplicateItem = constError("work item already submitted")

// ErrFinished is returned by [Dispatcher.Submit] once the dispatcher has
// finished or been aborted.
const ErrFinished = constError("dispatcher already finished")

// A LaunchError reports that the operating system refused to start the
// simulator for one work item. It affects only that item.
type LaunchError struct {
	Item WorkItem
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("%s: trace %q: %v", ErrLaunch, e.Item.Trace, e.Err)
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunch
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// An ExitError reports that a simulator ran but did not finish cleanly,
// either because it exited with a non-zero status or because it exceeded
// [JobSpec.Timeout] and was killed. ExitCode is -1 when the simulator was
// terminated by Signal.
type ExitError struct {
	Item     WorkItem
	Attempt  int
	ExitCode int
	Signal   syscall.Signal
	TimedOut bool
	Err      error
}

func (e *ExitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: trace %q (attempt %d)", ErrTimeout, e.Item.Trace, e.Attempt)
	}
	if e.Signal != 0 {
		return fmt.Sprintf("%s: trace %q (attempt %d): killed by signal %q", ErrExit, e.Item.Trace, e.Attempt, e.Signal)
	}
	return fmt.Sprintf("%s: trace %q (attempt %d): exit code %d", ErrExit, e.Item.Trace, e.Attempt, e.ExitCode)
}

func (e *ExitError) Is(target error) bool {
	if e.TimedOut {
		return target == ErrTimeout
	}
	return target == ErrExit
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
