package scheduler

import "time"

// Slot holds at most one pending delayed action. Arming a slot cancels
// whatever it held before.
//
// Every arm bumps a generation number that is handed to the callback. A
// callback can race with Cancel or a re-arm (the timer may already be
// running when Stop is called), so the owner must call Claim with that
// generation, under its own lock, before acting. Slot itself does no locking;
// all methods must be called with the owner's lock held.
type Slot struct {
	clock Clock
	timer Timer
	gen   uint64
	label string
}

// NewSlot returns an empty slot driven by clock.
func NewSlot(clock Clock) *Slot {
	if clock == nil {
		clock = Real()
	}
	return &Slot{clock: clock}
}

// Arm cancels any pending action and schedules fn to run after d.
func (s *Slot) Arm(d time.Duration, label string, fn func(gen uint64)) uint64 {
	s.Cancel()
	s.gen++
	gen := s.gen
	s.label = label
	s.timer = s.clock.AfterFunc(d, func() { fn(gen) })
	return gen
}

// Cancel drops the pending action, if any.
func (s *Slot) Cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.label = ""
}

// Claim reports whether gen is still the pending action and, if so, marks
// the slot empty. A stale callback gets false and must do nothing.
func (s *Slot) Claim(gen uint64) bool {
	if s.timer == nil || s.gen != gen {
		return false
	}
	s.timer = nil
	s.label = ""
	return true
}

// Pending returns the label of the pending action.
func (s *Slot) Pending() (string, bool) {
	if s.timer == nil {
		return "", false
	}
	return s.label, true
}
