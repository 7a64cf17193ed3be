// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package simlaunch runs an external trace-driven simulator once per trace in
// a trace list, writing each run's interleaved standard output and standard
// error to its own log file. It separates launching (scattering) simulator
// processes from observing their completion (gathering) so that many runs can
// execute concurrently while all bookkeeping remains on a single control
// goroutine.
//
// Since simulations are CPU- and memory-bound, a [Dispatcher] places a hard
// limit (the ceiling, typically the number of CPU cores) on how many
// simulator processes may run at the same time. [Dispatcher.Submit] blocks
// while the ceiling is saturated and resumes as soon as any running process
// exits, without polling.
//
// A log file that already exists for a trace marks that trace as done, so an
// interrupted batch can simply be launched again and will pick up where it
// left off. To keep that rule sound, canceling the context passed to
// [Dispatcher.Run] kills every in-flight simulator and deletes its incomplete
// log before the run returns [ErrAborted]. Optionally, [JobSpec.RequireMarker]
// tightens the rule so that only logs accompanied by a completion marker,
// written after a zero exit status, count as done.
package simlaunch
