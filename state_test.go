// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package simlaunch_test

import (
	"testing"

	"github.com/petenewcomb/simlaunch"
	"github.com/stretchr/testify/require"
)

func TestStateNames(t *testing.T) {
	chk := require.New(t)
	chk.Equal("timed-out", simlaunch.TimedOut.String())
	chk.Equal("unknown", simlaunch.ItemState(-1).String())
	chk.Equal("draining", simlaunch.PhaseDraining.String())
	chk.Equal("launch-failed", simlaunch.EventLaunchFailed.String())
	chk.Equal("aborted", simlaunch.OutcomeAborted.String())
}

func TestItemStateTerminal(t *testing.T) {
	chk := require.New(t)
	chk.False(simlaunch.Pending.Terminal())
	chk.False(simlaunch.Running.Terminal())
	for _, s := range []simlaunch.ItemState{
		simlaunch.Skipped, simlaunch.Completed, simlaunch.Failed,
		simlaunch.TimedOut, simlaunch.LaunchFailed, simlaunch.Aborted,
	} {
		chk.True(s.Terminal(), s.String())
	}
}
