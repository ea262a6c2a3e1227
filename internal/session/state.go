package session

import (
	"fmt"

	"diamondfocus/internal/event"
)

// Status is the controller's externally visible state.
type Status string

const (
	StatusIdle         Status = "Idle"
	StatusFocusRunning Status = "FocusRunning"
	StatusFocusPaused  Status = "FocusPaused"
	StatusBreakRunning Status = "BreakRunning"
	StatusBreakPaused  Status = "BreakPaused"
)

// State is owned by the controller goroutine. FocusCount and BreakCount hold
// the live seconds of each phase; only the active one follows the engine.
type State struct {
	Phase        event.Phase
	FocusCount   int
	BreakCount   int
	AutoSwitch   bool
	AlertEnabled bool
	Running      bool
	// Started is set once the active phase has been started and cleared when
	// it is reset, switched or completed.
	Started    bool
	Generation uint64
	SessionID  string
}

// Count returns the live seconds of the active phase.
func (s State) Count() int {
	return s.count(s.Phase)
}

func (s State) count(p event.Phase) int {
	if p == event.PhaseBreak {
		return s.BreakCount
	}
	return s.FocusCount
}

func (s *State) setCount(p event.Phase, seconds int) {
	if p == event.PhaseBreak {
		s.BreakCount = seconds
	} else {
		s.FocusCount = seconds
	}
}

func (s State) Status() Status {
	switch {
	case !s.Running && !s.Started:
		return StatusIdle
	case s.Phase == event.PhaseBreak && s.Running:
		return StatusBreakRunning
	case s.Phase == event.PhaseBreak:
		return StatusBreakPaused
	case s.Running:
		return StatusFocusRunning
	default:
		return StatusFocusPaused
	}
}

// View is what presenters receive on every change.
type View struct {
	Status    Status
	Phase     event.Phase
	Running   bool
	Remaining int
	Title     string
}

func (s State) View() View {
	return View{
		Status:    s.Status(),
		Phase:     s.Phase,
		Running:   s.Running,
		Remaining: s.Count(),
		Title:     Title(s),
	}
}

const readyTitle = "Diamond Focus - Ready"

// Title renders the window title shown for s.
func Title(s State) string {
	if !s.Running && !s.Started {
		return readyTitle
	}
	clock := FormatClock(s.Count())
	if !s.Running {
		return clock + " - ⏸️ Paused"
	}
	if s.Phase == event.PhaseBreak {
		return clock + " - ☕ Break Time"
	}
	return clock + " - ⏰ Focus Time"
}

// FormatClock renders seconds as MM:SS; minutes are not wrapped into hours.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
