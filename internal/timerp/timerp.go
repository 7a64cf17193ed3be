// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package timerp pools the timers the dispatcher arms while it waits for the
// next simulator deadline.
package timerp

import (
	"sync"
	"time"
)

// This implementation relies on [Go 1.23+ behavior], under which Stop and
// Reset discard any pending tick, so a pooled timer never delivers a stale
// value.
//
// [Go 1.23+ behavior]: https://pkg.go.dev/time#NewTimer

var pool = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		t.Stop()
		return t
	},
}

// Get returns a timer that fires once after d.
func Get(d time.Duration) *time.Timer {
	t := pool.Get().(*time.Timer)
	t.Reset(d)
	return t
}

// Put stops t and returns it to the pool. A nil timer is ignored.
func Put(t *time.Timer) {
	if t == nil {
		return
	}
	t.Stop()
	pool.Put(t)
}
