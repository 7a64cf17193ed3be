// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch

import (
	"context"
)

// Dispatch validates spec, loads its trace list and runs every trace through
// a new [Dispatcher]. Configuration problems are reported, matching
// [ErrConfig], before any simulator is launched; otherwise the result is that
// of [Dispatcher.Run].
func Dispatch(ctx context.Context, spec *JobSpec, opts ...Option) (*Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	items, err := LoadWorkList(spec)
	if err != nil {
		return nil, err
	}
	return NewDispatcher(spec, opts...).Run(ctx, items)
}
