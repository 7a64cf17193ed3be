// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"time"

	"go.uber.org/zap"
)

// An Option configures a [Dispatcher].
type Option func(*options)

type options struct {
	logger         *zap.Logger
	observer       Observer
	launchAttempts uint
	launchDelay    time.Duration
	abortGrace     time.Duration
}

func defaultOptions() options {
	return options{
		logger:         zap.NewNop(),
		launchAttempts: 3,
		launchDelay:    200 * time.Millisecond,
		abortGrace:     10 * time.Second,
	}
}

// WithLogger sets the logger used for progress and diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver registers a function to receive every work item [Event].
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithLaunchRetry sets how many times starting a simulator is attempted when
// the operating system reports a transient failure, and the initial delay
// between attempts.
func WithLaunchRetry(attempts uint, delay time.Duration) Option {
	if attempts < 1 {
		panic("launch attempts must be at least one")
	}
	return func(o *options) {
		o.launchAttempts = attempts
		o.launchDelay = delay
	}
}

// WithAbortGrace bounds how long [Dispatcher.Abort] waits for killed
// simulators to be reaped.
func WithAbortGrace(d time.Duration) Option {
	return func(o *options) {
		o.abortGrace = d
	}
}
