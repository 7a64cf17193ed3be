// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/addrummond/heap"
	"github.com/avast/retry-go"
	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/petenewcomb/simlaunch/internal/state"
	"github.com/petenewcomb/simlaunch/internal/timerp"
	"go.uber.org/zap"
)

// A Dispatcher launches one simulator process per work item while keeping
// the number of concurrently running simulators at or below the ceiling
// given by [JobSpec.Ceiling].
//
// A Dispatcher is single-threaded: all of its methods must be called from
// the same goroutine. Each simulator process is watched by its own goroutine,
// which posts a notification when the process exits; the dispatcher gathers
// those notifications whenever it is called, so no locking of its own state
// is needed. Cancellation is delivered through the context passed to
// [Dispatcher.Run], [Dispatcher.Submit] and [Dispatcher.Drain], each of which
// checks it at every point where it may block.
//
// A Dispatcher must be created with [NewDispatcher] and performs at most one
// run.
type Dispatcher struct {
	spec      *JobSpec
	opts      options
	logger    *zap.Logger
	slots     state.Slots
	running   map[*runningJob]struct{}
	exits     chan exitNotice
	deadlines heap.Heap[deadline, heap.Min]
	pending   deque.Deque[pendingItem]
	submitted map[string]struct{}
	phase     Phase
	ran       bool
	report    *Report

	abortOnce sync.Once
	abortErr  error
}

type pendingItem struct {
	item    WorkItem
	attempt int
}

// NewDispatcher creates a dispatcher for the given spec. The spec is not
// validated; see [JobSpec.Validate] and [Dispatch].
func NewDispatcher(spec *JobSpec, opts ...Option) *Dispatcher {
	if spec == nil {
		panic("job spec must be non-nil")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ceiling := spec.Ceiling()
	runID := uuid.NewString()
	return &Dispatcher{
		spec: spec,
		opts: o,
		logger: o.logger.With(
			zap.String("run_id", runID),
			zap.String("executable", spec.Executable),
		),
		slots:   state.NewSlots(ceiling),
		running: make(map[*runningJob]struct{}, ceiling),
		// Every running job posts exactly one notice and a job's slot is not
		// released until its notice is received, so the buffer can never
		// fill and waiter goroutines never block.
		exits:     make(chan exitNotice, ceiling),
		submitted: make(map[string]struct{}),
		report: &Report{
			RunID:      runID,
			Executable: spec.Executable,
			States:     make(map[string]ItemState),
		},
	}
}

// Phase returns the current phase of the run.
func (d *Dispatcher) Phase() Phase {
	return d.phase
}

// Running returns the number of simulators currently in flight.
func (d *Dispatcher) Running() int {
	return len(d.running)
}

// Report returns the dispatcher's report. It is updated as the run
// progresses and is final once [Dispatcher.Run] returns.
func (d *Dispatcher) Report() *Report {
	return d.report
}

// Submit launches a simulator for item, first gathering any simulators that
// have already exited.
//
// If the item's log already exists (and, with [JobSpec.RequireMarker], its
// completion marker), the item is marked Skipped and nothing is launched.
// Otherwise, if the ceiling is saturated, Submit blocks until a running
// simulator exits or ctx is done, and then launches the item with its
// standard output and standard error redirected to a newly created log.
//
// Returns the item's resulting state and an error:
//
//   - Skipped or Running, nil: the item was handled
//   - LaunchFailed, *LaunchError: the simulator could not be started; the
//     item's log has been removed and other items are unaffected
//   - Pending, non-nil: ctx was done before the item could be launched, or
//     the dispatcher has finished ([ErrFinished])
//   - the item's current state, [ErrDuplicateItem]: the item was already
//     submitted
func (d *Dispatcher) Submit(ctx context.Context, item WorkItem) (ItemState, error) {
	if _, ok := d.submitted[item.Trace]; ok {
		return d.report.States[item.Trace], ErrDuplicateItem
	}
	return d.submit(ctx, item, 1)
}

func (d *Dispatcher) submit(ctx context.Context, item WorkItem, attempt int) (ItemState, error) {
	if d.finished() {
		return Pending, ErrFinished
	}
	if err := ctx.Err(); err != nil {
		return Pending, err
	}
	d.submitted[item.Trace] = struct{}{}
	d.setState(item, Pending)

	d.Poll()

	if attempt == 1 && isDone(d.spec, item) {
		d.setState(item, Skipped)
		d.logger.Debug("Skipping trace with existing output",
			zap.String("trace", item.Trace),
			zap.String("output", item.Output))
		d.emit(Event{Kind: EventSkipped, Item: item, Attempt: attempt})
		return Skipped, nil
	}

	// Apply backpressure: wait for running simulators to exit until a slot
	// is free.
	for !d.slots.TryAcquire() {
		if err := d.waitOne(ctx); err != nil {
			return Pending, err
		}
	}

	job, err := d.launch(ctx, item, attempt)
	if err != nil {
		d.slots.Release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Pending, ctxErr
		}
		launchErr := &LaunchError{Item: item, Err: err}
		d.report.Errors = multierror.Append(d.report.Errors, launchErr)
		d.setState(item, LaunchFailed)
		d.logger.Error("Simulator launch failed",
			zap.String("trace", item.Trace),
			zap.Int("attempt", attempt),
			zap.Error(err))
		d.emit(Event{Kind: EventLaunchFailed, Item: item, Attempt: attempt, Err: launchErr})
		return LaunchFailed, launchErr
	}

	d.setState(item, Running)
	d.logger.Info("Launched simulator",
		zap.String("trace", item.Trace),
		zap.Int("attempt", attempt),
		zap.Int("pid", job.pid()),
		zap.Int("running", d.slots.InUse()))
	d.emit(Event{Kind: EventLaunched, Item: item, Attempt: attempt, PID: job.pid()})
	return Running, nil
}

// launch creates the item's log and starts its simulator. The caller must
// already hold a slot for it.
func (d *Dispatcher) launch(ctx context.Context, item WorkItem, attempt int) (*runningJob, error) {
	c := BuildCommand(d.spec, item)
	if err := os.MkdirAll(filepath.Dir(c.Output), 0o755); err != nil {
		return nil, err
	}
	// A marker from an earlier run must not vouch for the log about to be
	// overwritten.
	if err := removeIfExists(markerPath(d.spec, item)); err != nil {
		return nil, err
	}
	out, err := os.Create(c.Output)
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	err = retry.Do(
		func() error {
			// An exec.Cmd cannot be reused after a failed Start.
			cmd = exec.Command(c.Path, c.Args...)
			cmd.Stdout = out
			cmd.Stderr = out
			setProcessGroup(cmd)
			return cmd.Start()
		},
		retry.Context(ctx),
		retry.Attempts(d.opts.launchAttempts),
		retry.Delay(d.opts.launchDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransientStartError),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Warn("Retrying simulator launch",
				zap.String("trace", item.Trace),
				zap.Uint("retry", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		out.Close()
		if rmErr := removeIfExists(c.Output); rmErr != nil {
			d.logger.Warn("Could not remove log of unlaunched simulator",
				zap.String("output", c.Output),
				zap.Error(rmErr))
		}
		return nil, err
	}

	job := &runningJob{
		item:    item,
		attempt: attempt,
		cmd:     cmd,
		out:     out,
		started: time.Now(),
	}
	d.running[job] = struct{}{}
	if d.spec.Timeout > 0 {
		heap.PushOrderable(&d.deadlines, deadline{at: job.started.Add(d.spec.Timeout), job: job})
	}

	go func() {
		err := cmd.Wait()
		d.exits <- exitNotice{job: job, err: err, finished: time.Now()}
	}()
	return job, nil
}

// Poll gathers every simulator that has exited since the last call, and
// kills any that have passed their deadline, without blocking. Returns the
// number of exits gathered.
func (d *Dispatcher) Poll() int {
	d.expireDeadlines(time.Now())
	n := 0
	for {
		select {
		case notice := <-d.exits:
			d.gather(notice)
			n++
		default:
			return n
		}
	}
}

// Drain blocks until every running simulator has exited and been gathered,
// or until ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for len(d.running) > 0 {
		if err := d.waitOne(ctx); err != nil {
			return err
		}
	}
	return nil
}

// waitOne blocks until a running simulator exits, the earliest deadline
// passes, or ctx is done.
//
// Once ctx is done no further exit is gathered, since an interrupt that
// cancels ctx may also be what stopped the simulator. A notice received
// after cancellation is put back for [Dispatcher.Abort] to discard, which
// cannot block because every running job posts at most one notice.
func (d *Dispatcher) waitOne(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var timeoutCh <-chan time.Time
	if dl, ok := d.nextDeadline(); ok {
		t := timerp.Get(time.Until(dl.at))
		defer timerp.Put(t)
		timeoutCh = t.C
	}
	select {
	case notice := <-d.exits:
		if err := ctx.Err(); err != nil {
			d.exits <- notice
			return err
		}
		d.gather(notice)
	case <-timeoutCh:
		d.expireDeadlines(time.Now())
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// nextDeadline returns the earliest deadline of a job that is still running
// and not yet killed, discarding stale entries along the way.
func (d *Dispatcher) nextDeadline() (deadline, bool) {
	for {
		dl, ok := heap.Peek(&d.deadlines)
		if !ok {
			return dl, false
		}
		if _, running := d.running[dl.job]; running && !dl.job.timedOut {
			return dl, true
		}
		_, _ = heap.PopOrderable(&d.deadlines)
	}
}

func (d *Dispatcher) expireDeadlines(now time.Time) {
	for {
		dl, ok := d.nextDeadline()
		if !ok || dl.at.After(now) {
			return
		}
		_, _ = heap.PopOrderable(&d.deadlines)
		job := dl.job
		job.timedOut = true
		d.logger.Warn("Killing simulator that exceeded its timeout",
			zap.String("trace", job.item.Trace),
			zap.Int("pid", job.pid()),
			zap.Duration("timeout", d.spec.Timeout))
		if err := job.kill(); err != nil {
			d.logger.Error("Could not kill simulator",
				zap.String("trace", job.item.Trace),
				zap.Error(err))
		}
		// The slot is released when the exit notice is gathered.
	}
}

// gather records the outcome of an exited simulator and frees its slot.
func (d *Dispatcher) gather(notice exitNotice) {
	job := notice.job
	if _, ok := d.running[job]; !ok {
		// Already discarded by Abort.
		return
	}
	delete(d.running, job)
	d.slots.Release()

	duration := notice.finished.Sub(job.started)
	closeErr := job.out.Close()
	exitCode, sig := exitStatusOf(notice.err)

	switch {
	case job.timedOut:
		d.fail(job, TimedOut, &ExitError{
			Item: job.item, Attempt: job.attempt, ExitCode: exitCode, Signal: sig, TimedOut: true, Err: notice.err,
		}, duration)
	case notice.err != nil:
		d.fail(job, Failed, &ExitError{
			Item: job.item, Attempt: job.attempt, ExitCode: exitCode, Signal: sig, Err: notice.err,
		}, duration)
	case closeErr != nil:
		d.fail(job, Failed, &ExitError{
			Item: job.item, Attempt: job.attempt, ExitCode: exitCode, Err: closeErr,
		}, duration)
	default:
		d.complete(job, notice, duration)
	}
}

func (d *Dispatcher) complete(job *runningJob, notice exitNotice, duration time.Duration) {
	err := writeMarker(markerPath(d.spec, job.item), &completionMarker{
		RunID:      d.report.RunID,
		Trace:      job.item.Trace,
		Executable: d.spec.Executable,
		Attempt:    job.attempt,
		Started:    job.started,
		Finished:   notice.finished,
	})
	if err != nil {
		d.logger.Warn("Could not write completion marker",
			zap.String("trace", job.item.Trace),
			zap.Error(err))
	}
	d.setState(job.item, Completed)
	d.logger.Info("Simulation completed",
		zap.String("trace", job.item.Trace),
		zap.Duration("duration", duration),
		zap.Int("running", d.slots.InUse()))
	d.emit(Event{Kind: EventCompleted, Item: job.item, Attempt: job.attempt, PID: job.pid(), Duration: duration})
}

func (d *Dispatcher) fail(job *runningJob, s ItemState, exitErr *ExitError, duration time.Duration) {
	d.report.Errors = multierror.Append(d.report.Errors, exitErr)
	d.setState(job.item, s)

	fields := []zap.Field{
		zap.String("trace", job.item.Trace),
		zap.Int("attempt", job.attempt),
		zap.Int("exit_code", exitErr.ExitCode),
		zap.Duration("duration", duration),
	}
	if exitErr.Signal != 0 {
		fields = append(fields, zap.Stringer("signal", exitErr.Signal))
	}
	if dst, err := quarantine(d.spec, job.item); err != nil {
		d.logger.Error("Could not move log of failed simulation", append(fields, zap.Error(err))...)
	} else {
		fields = append(fields, zap.String("log", dst))
	}
	d.logger.Error("Simulation did not complete", append(fields, zap.Error(exitErr))...)

	kind := EventFailed
	if s == TimedOut {
		kind = EventTimedOut
	}
	d.emit(Event{
		Kind: kind, Item: job.item, Attempt: job.attempt, PID: job.pid(),
		ExitCode: exitErr.ExitCode, Duration: duration, Err: exitErr,
	})

	if job.attempt <= d.spec.Retries {
		d.pending.PushBack(pendingItem{item: job.item, attempt: job.attempt + 1})
		d.setState(job.item, Pending)
		d.logger.Info("Requeued trace", zap.String("trace", job.item.Trace), zap.Int("next_attempt", job.attempt+1))
		d.emit(Event{Kind: EventRequeued, Item: job.item, Attempt: job.attempt + 1})
	}
}

// Run submits every item in order, waits for all simulators to finish and
// returns the run's report. Items that fail and have retries left are
// launched again after the rest of the queue.
//
// If ctx is done before all work has finished, Run calls [Dispatcher.Abort]
// and returns the report together with an error matching both [ErrAborted]
// and the context's cancellation cause. Simulators that exit once ctx is done
// are aborted rather than gathered. If ctx is done only after the last
// simulator has been gathered, the run counts as completed.
//
// Run panics if called more than once.
func (d *Dispatcher) Run(ctx context.Context, items []WorkItem) (*Report, error) {
	if d.ran {
		panic("dispatcher already run")
	}
	d.ran = true
	d.report.Started = time.Now()

	for _, item := range items {
		if _, ok := d.report.States[item.Trace]; ok {
			continue
		}
		d.report.States[item.Trace] = Pending
		d.pending.PushBack(pendingItem{item: item, attempt: 1})
	}
	d.logger.Info("Starting dispatch",
		zap.Int("items", d.pending.Len()),
		zap.Int("ceiling", d.slots.Limit()),
		zap.String("results_dir", d.spec.OutputDir()))

	err := d.run(ctx)
	if err != nil {
		if abortErr := d.Abort(); abortErr != nil {
			d.logger.Error("Abort did not clean up completely", zap.Error(abortErr))
		}
		d.finish()
		return d.report, fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
	}

	d.phase = PhaseDone
	d.finish()
	d.logger.Info("Dispatch finished",
		zap.Int("completed", d.report.Count(Completed)),
		zap.Int("skipped", d.report.Count(Skipped)),
		zap.Int("failed", d.report.Count(Failed)+d.report.Count(TimedOut)+d.report.Count(LaunchFailed)),
		zap.Int("peak_running", d.report.PeakRunning),
		zap.Duration("elapsed", d.report.Finished.Sub(d.report.Started)))
	return d.report, nil
}

func (d *Dispatcher) run(ctx context.Context) error {
	for {
		d.phase = PhaseFilling
		for d.pending.Len() > 0 {
			p := d.pending.PopFront()
			if _, err := d.submit(ctx, p.item, p.attempt); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				// Launch failures affect only their own item.
			}
		}

		d.phase = PhaseDraining
		for len(d.running) > 0 && d.pending.Len() == 0 {
			if err := d.waitOne(ctx); err != nil {
				return err
			}
		}
		if d.pending.Len() == 0 {
			return nil
		}
	}
}

func (d *Dispatcher) finish() {
	d.report.Finished = time.Now()
	d.report.PeakRunning = d.slots.Peak()
}

// Abort kills every running simulator, waits for it to be reaped, deletes
// its incomplete log and drops all pending work, so that a later run neither
// finds orphaned simulators nor mistakes a truncated log for a finished one.
//
// Abort is idempotent: only the first call has any effect and later calls
// return the first call's result. A simulator that exits on its own while
// being aborted is treated the same as one that was killed. Abort waits at
// most the grace period set with [WithAbortGrace] for killed simulators to be
// reaped; any still outstanding are reported in the returned error.
func (d *Dispatcher) Abort() error {
	d.abortOnce.Do(func() {
		if d.phase == PhaseDone {
			return
		}
		d.abortErr = d.abort()
	})
	return d.abortErr
}

func (d *Dispatcher) abort() error {
	d.phase = PhaseAborting
	d.report.Outcome = OutcomeAborted
	d.logger.Warn("Aborting dispatch",
		zap.Int("running", len(d.running)),
		zap.Int("pending", d.pending.Len()))

	var result *multierror.Error
	for job := range d.running {
		if err := job.kill(); err != nil {
			result = multierror.Append(result, fmt.Errorf("killing simulator for trace %q: %w", job.item.Trace, err))
		}
	}

	grace := timerp.Get(d.opts.abortGrace)
	defer timerp.Put(grace)
	for len(d.running) > 0 {
		select {
		case notice := <-d.exits:
			if err := d.discard(notice.job); err != nil {
				result = multierror.Append(result, err)
			}
		case <-grace.C:
			for job := range d.running {
				result = multierror.Append(result, fmt.Errorf("simulator for trace %q (pid %d) was not reaped", job.item.Trace, job.pid()))
				if err := d.discard(job); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	}

	d.pending.Clear()
	d.phase = PhaseAborted
	return result.ErrorOrNil()
}

// discard removes an aborted job and its incomplete output.
func (d *Dispatcher) discard(job *runningJob) error {
	if _, ok := d.running[job]; !ok {
		return nil
	}
	delete(d.running, job)
	d.slots.Release()
	job.out.Close()

	var result *multierror.Error
	if err := removeIfExists(job.item.Output); err != nil {
		result = multierror.Append(result, err)
	}
	if err := removeIfExists(markerPath(d.spec, job.item)); err != nil {
		result = multierror.Append(result, err)
	}
	d.setState(job.item, Aborted)
	d.logger.Info("Discarded incomplete output",
		zap.String("trace", job.item.Trace),
		zap.String("output", job.item.Output))
	d.emit(Event{Kind: EventAborted, Item: job.item, Attempt: job.attempt, PID: job.pid()})
	return result.ErrorOrNil()
}

func (d *Dispatcher) finished() bool {
	switch d.phase {
	case PhaseDone, PhaseAborting, PhaseAborted:
		return true
	}
	return false
}

func (d *Dispatcher) setState(item WorkItem, s ItemState) {
	d.report.States[item.Trace] = s
}

func (d *Dispatcher) emit(ev Event) {
	ev.Running = d.slots.InUse()
	if d.opts.observer != nil {
		d.opts.observer(ev)
	}
}
