// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package state holds the single-threaded bookkeeping used by the
// dispatcher's control goroutine.
package state

// Slots counts occupied execution slots against a fixed limit and remembers
// the highest occupancy seen. It is not safe for concurrent use; all calls
// must come from the goroutine that owns the dispatcher.
type Slots struct {
	limit int
	inUse int
	peak  int
}

// NewSlots returns a counter with the given limit, which must be at least
// one.
func NewSlots(limit int) Slots {
	if limit < 1 {
		panic("slot limit must be at least one")
	}
	return Slots{limit: limit}
}

// TryAcquire occupies a slot and returns true if one is free. Otherwise it
// returns false and leaves the counter unchanged.
func (s *Slots) TryAcquire() bool {
	if s.inUse >= s.limit {
		return false
	}
	s.inUse++
	if s.inUse > s.peak {
		s.peak = s.inUse
	}
	return true
}

// Release frees a slot and returns true if none remain occupied.
func (s *Slots) Release() bool {
	s.inUse--
	if s.inUse < 0 {
		panic("no slots in use")
	}
	return s.inUse == 0
}

func (s *Slots) InUse() int {
	return s.inUse
}

func (s *Slots) Limit() int {
	return s.limit
}

// Full reports whether every slot is occupied.
func (s *Slots) Full() bool {
	return s.inUse >= s.limit
}

// Peak returns the highest number of slots ever occupied at once.
func (s *Slots) Peak() int {
	return s.peak
}
