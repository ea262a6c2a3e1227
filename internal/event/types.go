package event

import "time"

type EventType string

const (
	EventTypeSessionStart    EventType = "session_start"
	EventTypeSessionPause    EventType = "session_pause"
	EventTypeSessionComplete EventType = "session_complete"
	EventTypeSessionReset    EventType = "session_reset"
	EventTypePhaseSwitch     EventType = "phase_switch"
	EventTypeEngineLost      EventType = "engine_lost"
	EventTypeAppStart        EventType = "app_start"
	EventTypeAppStop         EventType = "app_stop"
)

// Event structure to store in DB
type Event struct {
	ID        int64     `db:"id"`
	Timestamp time.Time `db:"timestamp"`
	Type      EventType `db:"type"`
	Phase     Phase     `db:"phase"`
	Value     float64   `db:"value"`      // Seconds left (or configured) at the time of the event
	SessionID string    `db:"session_id"` // Groups the events of one phase run
	Notes     string    `db:"notes"`
}

// Phase is one of the two mutually exclusive session types.
type Phase string

const (
	PhaseFocus Phase = "Focus"
	PhaseBreak Phase = "Break"
)

// Other returns the opposite phase.
func (p Phase) Other() Phase {
	if p == PhaseBreak {
		return PhaseFocus
	}
	return PhaseBreak
}

// ParsePhase accepts the display name or a short alias.
func ParsePhase(s string) (Phase, bool) {
	switch s {
	case "Focus", "focus", "f":
		return PhaseFocus, true
	case "Break", "break", "b":
		return PhaseBreak, true
	}
	return "", false
}
