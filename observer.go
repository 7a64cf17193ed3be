// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"time"
)

// EventKind identifies what happened to a work item.
type EventKind int

const (
	EventSkipped EventKind = iota
	EventLaunched
	EventCompleted
	EventFailed
	EventTimedOut
	EventLaunchFailed
	EventAborted
	EventRequeued
)

var eventKindNames = [...]string{
	EventSkipped:      "skipped",
	EventLaunched:     "launched",
	EventCompleted:    "completed",
	EventFailed:       "failed",
	EventTimedOut:     "timed-out",
	EventLaunchFailed: "launch-failed",
	EventAborted:      "aborted",
	EventRequeued:     "requeued",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// An Event describes a single work item transition. Running is the number of
// simulators in flight immediately after the transition.
type Event struct {
	Kind     EventKind
	Item     WorkItem
	Attempt  int
	Running  int
	PID      int
	ExitCode int
	Duration time.Duration
	Err      error
}

// An Observer is called synchronously on the dispatcher's control goroutine
// for every [Event]. It must not call back into the [Dispatcher], but it may
// cancel the context passed to [Dispatcher.Run].
type Observer func(Event)

// Observers combines several observers into one that calls each in order.
func Observers(observers ...Observer) Observer {
	return func(ev Event) {
		for _, o := range observers {
			if o != nil {
				o(ev)
			}
		}
	}
}
