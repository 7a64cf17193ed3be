// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// runningJob binds a work item to its simulator process and open log file.
// It is owned by the dispatcher's control goroutine; the waiter goroutine
// only reads cmd and job pointers it was handed at launch.
type runningJob struct {
	item     WorkItem
	attempt  int
	cmd      *exec.Cmd
	out      *os.File
	started  time.Time
	timedOut bool
}

func (j *runningJob) pid() int {
	if j.cmd.Process == nil {
		return 0
	}
	return j.cmd.Process.Pid
}

// kill terminates the simulator together with any processes it started. A
// process that has already exited is not an error.
func (j *runningJob) kill() error {
	if err := killProcessGroup(j.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// exitNotice is posted by a job's waiter goroutine once cmd.Wait returns.
type exitNotice struct {
	job      *runningJob
	err      error
	finished time.Time
}

// deadline orders running jobs by the time at which they must be killed.
// Entries are not removed when a job exits early; stale ones are skipped
// when they reach the top of the heap.
type deadline struct {
	at  time.Time
	job *runningJob
}

func (a *deadline) Cmp(b *deadline) int {
	return a.at.Compare(b.at)
}

// exitStatusOf returns the exit code of a finished process. A process that
// was terminated by a signal has exit code -1 and that signal.
func exitStatusOf(err error) (int, syscall.Signal) {
	if err == nil {
		return 0, 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, 0
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal()
	}
	return exitErr.ExitCode(), 0
}

func isTransientStartError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.ETXTBSY)
}
