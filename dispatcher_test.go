// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petenewcomb/simlaunch"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDispatcherCeiling(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(2)
	items := []simlaunch.WorkItem{
		f.trace(spec, "a", sleep(400*time.Millisecond)),
		f.trace(spec, "b", sleep(100*time.Millisecond)),
		f.trace(spec, "c", sleep(50*time.Millisecond)),
	}

	var rec recorder
	d := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(rec.observe))
	report, err := d.Run(context.Background(), items)
	chk.NoError(err)
	chk.Equal(simlaunch.OutcomeCompleted, report.Outcome)
	chk.Equal(simlaunch.PhaseDone, d.Phase())
	chk.Zero(d.Running())

	// a and b start immediately; c waits for b, the first to finish, and
	// finishes before a does.
	chk.Less(rec.index(simlaunch.EventLaunched, "a"), rec.index(simlaunch.EventLaunched, "b"))
	chk.Less(rec.index(simlaunch.EventLaunched, "b"), rec.index(simlaunch.EventCompleted, "b"))
	chk.Less(rec.index(simlaunch.EventCompleted, "b"), rec.index(simlaunch.EventLaunched, "c"))
	chk.Less(rec.index(simlaunch.EventLaunched, "c"), rec.index(simlaunch.EventCompleted, "a"))
	chk.LessOrEqual(rec.maxRunning(), 2)
	chk.Equal(2, report.PeakRunning)

	chk.Equal(3, report.Count(simlaunch.Completed))
	chk.False(report.Failed())
	chk.NoError(report.Err())
	for _, item := range items {
		chk.FileExists(item.Output)
	}
}

func TestDispatcherLogContents(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	item := f.trace(spec, "600.perlbench_s-210B.champsimtrace.xz")

	_, err := simlaunch.NewDispatcher(spec).Run(context.Background(), []simlaunch.WorkItem{item})
	chk.NoError(err)

	data, err := os.ReadFile(item.Output)
	chk.NoError(err)
	log := string(data)
	chk.Contains(log, "Warmup Instructions: 10\n")
	chk.Contains(log, "Simulation Instructions: 100\n")
	chk.Contains(log, "Trace: "+filepath.Join(spec.TraceDir, item.Trace)+"\n")
	// Standard error goes to the same log.
	chk.Contains(log, "simulation finished\n")
	chk.Contains(log, "cumulative IPC")

	chk.Equal(filepath.Join(spec.ResultsDir, item.Trace+".txt"), item.Output)
	chk.FileExists(filepath.Join(spec.ResultsDir, simlaunch.StateDirName, item.Trace+".json"))
}

func TestDispatcherSkipsExistingOutput(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(2)
	a := f.trace(spec, "a")
	b := f.trace(spec, "b")
	chk.NoError(os.MkdirAll(spec.ResultsDir, 0o755))
	chk.NoError(os.WriteFile(a.Output, []byte("old"), 0o644))

	var rec recorder
	report, err := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(rec.observe)).
		Run(context.Background(), []simlaunch.WorkItem{a, b})
	chk.NoError(err)

	chk.Equal(simlaunch.Skipped, report.States["a"])
	chk.Equal(simlaunch.Completed, report.States["b"])
	chk.Equal(1, rec.count(simlaunch.EventLaunched))
	chk.Equal(-1, rec.index(simlaunch.EventLaunched, "a"))

	data, err := os.ReadFile(a.Output)
	chk.NoError(err)
	chk.Equal("old", string(data))
	chk.FileExists(b.Output)
}

func TestDispatcherRerunLaunchesNothing(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(2)
	items := []simlaunch.WorkItem{
		f.trace(spec, "a"),
		f.trace(spec, "b"),
		f.trace(spec, "c"),
	}

	_, err := simlaunch.NewDispatcher(spec).Run(context.Background(), items)
	chk.NoError(err)

	var rec recorder
	report, err := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(rec.observe)).
		Run(context.Background(), items)
	chk.NoError(err)
	chk.Zero(rec.count(simlaunch.EventLaunched))
	chk.Equal(3, report.Count(simlaunch.Skipped))
	chk.Zero(report.PeakRunning)
}

func TestDispatcherRequireMarker(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	spec.RequireMarker = true
	a := f.trace(spec, "a")
	chk.NoError(os.MkdirAll(spec.ResultsDir, 0o755))
	chk.NoError(os.WriteFile(a.Output, []byte("truncated"), 0o644))

	report, err := simlaunch.NewDispatcher(spec).Run(context.Background(), []simlaunch.WorkItem{a})
	chk.NoError(err)
	chk.Equal(simlaunch.Completed, report.States["a"])

	data, err := os.ReadFile(a.Output)
	chk.NoError(err)
	chk.NotContains(string(data), "truncated")
	chk.FileExists(filepath.Join(spec.ResultsDir, simlaunch.StateDirName, "a.json"))

	// Now that the marker exists, the item is skipped.
	report, err = simlaunch.NewDispatcher(spec).Run(context.Background(), []simlaunch.WorkItem{a})
	chk.NoError(err)
	chk.Equal(simlaunch.Skipped, report.States["a"])
}

func TestDispatcherAbort(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	a := f.trace(spec, "a", sleep(time.Minute))
	b := f.trace(spec, "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var rec recorder
	d := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(func(ev simlaunch.Event) {
		rec.observe(ev)
		if ev.Kind == simlaunch.EventLaunched && ev.Item.Trace == "a" {
			cancel()
		}
	}))

	start := time.Now()
	report, err := d.Run(ctx, []simlaunch.WorkItem{a, b})
	chk.Less(time.Since(start), 30*time.Second)
	chk.Error(err)
	chk.ErrorIs(err, simlaunch.ErrAborted)
	chk.ErrorIs(err, context.Canceled)
	chk.Equal(simlaunch.OutcomeAborted, report.Outcome)
	chk.Equal(simlaunch.PhaseAborted, d.Phase())
	chk.Zero(d.Running())

	chk.Equal(simlaunch.Aborted, report.States["a"])
	chk.Equal(simlaunch.Pending, report.States["b"])
	chk.Equal(1, rec.count(simlaunch.EventLaunched))
	chk.Equal(1, rec.count(simlaunch.EventAborted))
	chk.NoFileExists(a.Output)
	chk.NoFileExists(b.Output)
	chk.NoFileExists(filepath.Join(spec.ResultsDir, simlaunch.StateDirName, "a.json"))

	// Abort is idempotent and Submit refuses new work.
	chk.NoError(d.Abort())
	chk.Equal(1, rec.count(simlaunch.EventAborted))
	state, err := d.Submit(context.Background(), f.trace(spec, "c"))
	chk.ErrorIs(err, simlaunch.ErrFinished)
	chk.Equal(simlaunch.Pending, state)
}

func TestDispatcherAbortCause(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	a := f.trace(spec, "a", sleep(time.Minute))

	cause := errors.New("operator interrupt")
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	d := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(func(ev simlaunch.Event) {
		if ev.Kind == simlaunch.EventLaunched {
			cancel(cause)
		}
	}))
	_, err := d.Run(ctx, []simlaunch.WorkItem{a})
	chk.ErrorIs(err, simlaunch.ErrAborted)
	chk.ErrorIs(err, cause)
	chk.NoFileExists(a.Output)
}

func TestDispatcherAbortBeforeRun(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	a := f.trace(spec, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var rec recorder
	report, err := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(rec.observe)).
		Run(ctx, []simlaunch.WorkItem{a})
	chk.ErrorIs(err, simlaunch.ErrAborted)
	chk.Zero(rec.count(simlaunch.EventLaunched))
	chk.Equal(simlaunch.Pending, report.States["a"])
	chk.NoFileExists(a.Output)
}

func TestDispatcherAbortAfterCompletion(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	a := f.trace(spec, "a")

	d := simlaunch.NewDispatcher(spec)
	_, err := d.Run(context.Background(), []simlaunch.WorkItem{a})
	chk.NoError(err)

	// Aborting a finished run must not touch its results.
	chk.NoError(d.Abort())
	chk.Equal(simlaunch.PhaseDone, d.Phase())
	chk.FileExists(a.Output)
}

func TestDispatcherFailedExit(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(2)
	a := f.trace(spec, "a", exit(3))
	b := f.trace(spec, "b")

	var rec recorder
	report, err := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(rec.observe)).
		Run(context.Background(), []simlaunch.WorkItem{a, b})
	chk.NoError(err)
	chk.True(report.Failed())
	chk.Equal(simlaunch.Failed, report.States["a"])
	chk.Equal(simlaunch.Completed, report.States["b"])

	i := rec.index(simlaunch.EventFailed, "a")
	chk.GreaterOrEqual(i, 0)
	chk.Equal(3, rec.events[i].ExitCode)

	chk.ErrorIs(report.Err(), simlaunch.ErrExit)
	var exitErr *simlaunch.ExitError
	chk.ErrorAs(report.Err(), &exitErr)
	chk.Equal("a", exitErr.Item.Trace)
	chk.Equal(3, exitErr.ExitCode)

	// The failed log is moved aside so that the next run retries the item.
	chk.NoFileExists(a.Output)
	chk.FileExists(filepath.Join(spec.ResultsDir, simlaunch.StateDirName, "failed", "a.txt"))
	chk.NoFileExists(filepath.Join(spec.ResultsDir, simlaunch.StateDirName, "a.json"))
}

func TestDispatcherRetries(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	spec.Retries = 1
	sentinel := filepath.Join(t.TempDir(), "failed-once")
	a := f.trace(spec, "a", "failonce="+sentinel)
	b := f.trace(spec, "b", exit(1))

	var rec recorder
	report, err := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(rec.observe)).
		Run(context.Background(), []simlaunch.WorkItem{a, b})
	chk.NoError(err)

	chk.Equal(simlaunch.Completed, report.States["a"])
	chk.Equal(simlaunch.Failed, report.States["b"])
	chk.Equal(4, rec.count(simlaunch.EventLaunched))
	chk.Equal(2, rec.count(simlaunch.EventRequeued))
	chk.Equal(3, rec.count(simlaunch.EventFailed))
	chk.FileExists(a.Output)

	// Retries go to the back of the queue.
	chk.Less(rec.index(simlaunch.EventLaunched, "b"), rec.index(simlaunch.EventCompleted, "a"))
}

func TestDispatcherTimeout(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(2)
	spec.Timeout = 200 * time.Millisecond
	a := f.trace(spec, "a", sleep(time.Minute))
	b := f.trace(spec, "b")

	start := time.Now()
	report, err := simlaunch.NewDispatcher(spec).Run(context.Background(), []simlaunch.WorkItem{a, b})
	chk.NoError(err)
	chk.Less(time.Since(start), 30*time.Second)

	chk.Equal(simlaunch.TimedOut, report.States["a"])
	chk.Equal(simlaunch.Completed, report.States["b"])
	chk.ErrorIs(report.Err(), simlaunch.ErrTimeout)
	chk.NotErrorIs(report.Err(), simlaunch.ErrExit)
	chk.NoFileExists(a.Output)
	chk.FileExists(filepath.Join(spec.ResultsDir, simlaunch.StateDirName, "failed", "a.txt"))
}

func TestDispatcherLaunchFailure(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(2)
	spec.Executable = "no-such-simulator"
	a := f.trace(spec, "a")
	b := f.trace(spec, "b")

	d := simlaunch.NewDispatcher(spec)
	state, err := d.Submit(context.Background(), a)
	chk.Equal(simlaunch.LaunchFailed, state)
	chk.ErrorIs(err, simlaunch.ErrLaunch)
	var launchErr *simlaunch.LaunchError
	chk.ErrorAs(err, &launchErr)
	chk.Equal("a", launchErr.Item.Trace)
	chk.NoFileExists(a.Output)
	chk.Zero(d.Running())

	// Other items are unaffected.
	state, err = d.Submit(context.Background(), b)
	chk.Equal(simlaunch.LaunchFailed, state)
	chk.ErrorIs(err, simlaunch.ErrLaunch)
	chk.NoError(d.Drain(context.Background()))
}

func TestDispatcherSubmitAndDrain(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	a := f.trace(spec, "a", sleep(100*time.Millisecond))
	b := f.trace(spec, "b")

	ctx := context.Background()
	d := simlaunch.NewDispatcher(spec)
	chk.NoError(d.Drain(ctx))
	chk.Zero(d.Poll())

	state, err := d.Submit(ctx, a)
	chk.NoError(err)
	chk.Equal(simlaunch.Running, state)
	chk.Equal(1, d.Running())

	_, err = d.Submit(ctx, a)
	chk.ErrorIs(err, simlaunch.ErrDuplicateItem)

	// With the ceiling saturated, Submit waits for a to exit.
	state, err = d.Submit(ctx, b)
	chk.NoError(err)
	chk.Equal(simlaunch.Running, state)
	chk.Equal(simlaunch.Completed, d.Report().States["a"])
	chk.Equal(1, d.Running())

	chk.NoError(d.Drain(ctx))
	chk.Zero(d.Running())
	chk.Equal(simlaunch.Completed, d.Report().States["b"])
}

func TestDispatcherSubmitCanceledWhileWaiting(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(1)
	a := f.trace(spec, "a", sleep(time.Minute))
	b := f.trace(spec, "b")

	d := simlaunch.NewDispatcher(spec)
	_, err := d.Submit(context.Background(), a)
	chk.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	state, err := d.Submit(ctx, b)
	chk.ErrorIs(err, context.DeadlineExceeded)
	chk.Equal(simlaunch.Pending, state)
	chk.NoFileExists(b.Output)

	chk.NoError(d.Abort())
	chk.Zero(d.Running())
	chk.NoFileExists(a.Output)
}

func TestDispatcherDrainCanceled(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)
	spec := f.spec(2)
	a := f.trace(spec, "a", sleep(time.Minute))

	d := simlaunch.NewDispatcher(spec)
	state, err := d.Submit(context.Background(), a)
	chk.NoError(err)
	chk.Equal(simlaunch.Running, state)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	chk.ErrorIs(d.Drain(ctx), context.DeadlineExceeded)
	chk.Less(time.Since(start), 30*time.Second)
	chk.Equal(1, d.Running())
	chk.Equal(simlaunch.Running, d.Report().States["a"])

	// A drain whose context is already done returns at once without
	// gathering anything.
	chk.ErrorIs(d.Drain(ctx), context.DeadlineExceeded)
	chk.Equal(1, d.Running())

	chk.NoError(d.Abort())
	chk.Zero(d.Running())
	chk.Equal(simlaunch.Aborted, d.Report().States["a"])
	chk.NoFileExists(a.Output)
}

func TestDispatcherRunTwicePanics(t *testing.T) {
	f := newFixture(t)
	spec := f.spec(1)
	d := simlaunch.NewDispatcher(spec)
	_, err := d.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Panics(t, func() {
		d.Run(context.Background(), nil)
	})
}

func TestNewDispatcherNilSpecPanics(t *testing.T) {
	require.Panics(t, func() {
		simlaunch.NewDispatcher(nil)
	})
}

func TestDispatcherOrderIndependence(t *testing.T) {
	chk := require.New(t)
	f := newFixture(t)

	run := func(names []string) []string {
		spec := f.spec(2)
		var items []simlaunch.WorkItem
		for _, name := range names {
			items = append(items, f.trace(spec, name, sleep(10*time.Millisecond)))
		}
		_, err := simlaunch.NewDispatcher(spec).Run(context.Background(), items)
		chk.NoError(err)
		entries, err := os.ReadDir(spec.ResultsDir)
		chk.NoError(err)
		var files []string
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, e.Name())
			}
		}
		return files
	}

	forward := run([]string{"a", "b", "c", "d"})
	backward := run([]string{"d", "c", "b", "a"})
	chk.Equal([]string{"a.txt", "b.txt", "c.txt", "d.txt"}, forward)
	chk.Equal(forward, backward)
}

func TestDispatcherCeilingInvariant(t *testing.T) {
	if testing.Short() {
		t.Skip("launches many processes")
	}
	f := newFixture(t)
	rapid.Check(t, func(t *rapid.T) {
		chk := require.New(t)
		ceiling := rapid.IntRange(1, 3).Draw(t, "ceiling")
		n := rapid.IntRange(0, 6).Draw(t, "items")
		spec := f.spec(ceiling)

		var items []simlaunch.WorkItem
		for i := range n {
			ms := rapid.IntRange(0, 30).Draw(t, "sleep")
			items = append(items, f.trace(spec, string(rune('a'+i)), sleep(time.Duration(ms)*time.Millisecond)))
		}

		var rec recorder
		d := simlaunch.NewDispatcher(spec, simlaunch.WithObserver(func(ev simlaunch.Event) {
			rec.observe(ev)
			chk.LessOrEqual(ev.Running, ceiling)
		}))
		report, err := d.Run(context.Background(), items)
		chk.NoError(err)
		chk.LessOrEqual(report.PeakRunning, ceiling)
		chk.Equal(n, report.Count(simlaunch.Completed))
		chk.Equal(n, rec.count(simlaunch.EventLaunched))
		for _, item := range items {
			chk.FileExists(item.Output)
		}
	})
}
