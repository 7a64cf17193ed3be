// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petenewcomb/simlaunch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/petenewcomb/simlaunch/internal/metrics"
)

const errItemsFailed = constError("some traces did not complete")

type constError string

func (e constError) Error() string {
	return string(e)
}

// dispatchAll runs each spec in turn, one batch per executable. An interrupt
// aborts the batch in progress and skips the rest; a failed trace does not
// stop later batches.
func (a *app) dispatchAll(ctx context.Context, specs []simlaunch.JobSpec, metricsAddr string) error {
	ctx, stop := simlaunch.NotifyInterrupt(ctx)
	defer stop()

	var observe func(executable string) simlaunch.Observer
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder := metrics.NewRecorder(reg)
		observe = recorder.Observer

		serveCtx, cancel := context.WithCancel(ctx)
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := metrics.Serve(serveCtx, metricsAddr, reg, a.logger); err != nil {
				a.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			cancel()
			<-served
		}()
	}

	failed := false
	for i := range specs {
		spec := &specs[i]
		opts := []simlaunch.Option{simlaunch.WithLogger(a.logger)}
		if observe != nil {
			opts = append(opts, simlaunch.WithObserver(observe(spec.Executable)))
		}
		report, err := simlaunch.Dispatch(ctx, spec, opts...)
		if report != nil {
			a.summarize(report)
			failed = failed || report.Failed() && report.Outcome == simlaunch.OutcomeCompleted
		}
		switch {
		case err == nil:
		case errors.Is(err, simlaunch.ErrAborted):
			return &ExitError{Code: ExitAborted, Err: err}
		case errors.Is(err, simlaunch.ErrConfig):
			return &ExitError{Code: ExitConfig, Err: err}
		default:
			return &ExitError{Code: ExitFailed, Err: err}
		}
	}
	if failed {
		return &ExitError{Code: ExitFailed, Err: errItemsFailed}
	}
	return nil
}

func (a *app) summarize(r *simlaunch.Report) {
	fmt.Fprintf(a.stdout, "%s: %s, %d completed, %d skipped, %d failed, %d timed out, %d not launched (run %s, %s)\n",
		r.Executable, r.Outcome,
		r.Count(simlaunch.Completed),
		r.Count(simlaunch.Skipped),
		r.Count(simlaunch.Failed),
		r.Count(simlaunch.TimedOut),
		r.Count(simlaunch.LaunchFailed),
		r.RunID,
		r.Finished.Sub(r.Started).Round(time.Millisecond))
	if err := r.Err(); err != nil {
		a.logger.Debug("Per-trace errors", zap.Error(err))
	}
}
