package engine

import "time"

// State is the engine's authoritative record of the countdown.
//
// While Running, Remaining is derived from StartedAt and the wall clock on
// every tick; while stopped it holds the last value computed.
type State struct {
	Total     int
	Remaining int
	StartedAt time.Time
	Running   bool
	// Tracked is false until the first duration has been loaded.
	Tracked bool
}

func (s *State) load(seconds int) {
	s.Total = seconds
	s.Remaining = seconds
	s.StartedAt = time.Time{}
	s.Tracked = true
}

// Start arms the countdown. It reports false when the state was already
// running. A fresh duration is loaded when nothing is tracked yet, when the
// tracked total differs from seconds, or when the previous run reached zero;
// otherwise the frozen remaining time is resumed.
func (s *State) Start(seconds int, now time.Time) bool {
	if s.Running {
		return false
	}
	if !s.Tracked || s.Total != seconds || s.Remaining == 0 {
		s.load(seconds)
	}
	s.StartedAt = now.Add(-time.Duration(s.Total-s.Remaining) * time.Second)
	s.Running = true
	return true
}

// Pause freezes Remaining at its value for now. It reports false when the
// state was not running.
func (s *State) Pause(now time.Time) bool {
	if !s.Running {
		return false
	}
	s.Remaining = s.remainingAt(now)
	s.Running = false
	return true
}

// Change loads seconds unconditionally and runs from now.
func (s *State) Change(seconds int, now time.Time) {
	s.load(seconds)
	s.StartedAt = now
	s.Running = true
}

// Reset stops the countdown and loads seconds without running.
func (s *State) Reset(seconds int, now time.Time) {
	s.Pause(now)
	s.load(seconds)
}

// Tick recomputes Remaining from the wall clock. done is true when the
// countdown reached zero, in which case the state is no longer running.
func (s *State) Tick(now time.Time) (remaining int, done bool) {
	if !s.Running {
		return s.Remaining, false
	}
	s.Remaining = s.remainingAt(now)
	if s.Remaining == 0 {
		s.Running = false
		return 0, true
	}
	return s.Remaining, false
}

func (s *State) remainingAt(now time.Time) int {
	elapsed := int(now.Sub(s.StartedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := s.Total - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
