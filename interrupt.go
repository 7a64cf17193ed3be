// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyInterrupt returns a copy of ctx that is canceled when the process
// receives one of the given signals, or SIGINT or SIGTERM if none are given.
// It scopes interrupt handling to a single dispatch run: pass the returned
// context to [Dispatcher.Run] or [Dispatch], and call stop once the run has
// returned.
//
// Until stop is called, every further delivery of the signals is absorbed,
// so repeated interrupts cannot kill the harness while it is still cleaning
// up. Since cancellation is only observed by the dispatcher's own control
// goroutine and [Dispatcher.Abort] runs at most once, a signal that races
// with the natural end of a run either aborts it exactly once or is ignored.
func NotifyInterrupt(ctx context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return signal.NotifyContext(ctx, signals...)
}
