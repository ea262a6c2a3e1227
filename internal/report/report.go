// Package report turns the session log into per-session rows and totals.
package report

import (
	"fmt"
	"sort"
	"time"

	"diamondfocus/internal/event"
)

// Session is one phase run, grouped by session ID.
type Session struct {
	ID        string
	Phase     event.Phase
	StartedAt time.Time
	EndedAt   time.Time
	Planned   time.Duration
	Pauses    int
	Completed bool
	Reset     bool
}

// Summary holds totals over completed sessions.
type Summary struct {
	Sessions       []Session
	CompletedFocus int
	CompletedBreak int
	FocusTime      time.Duration
	BreakTime      time.Duration
	Interruptions  int
}

// Efficiency is focus time as a percentage of completed focus and break time.
func (s Summary) Efficiency() float64 {
	total := s.FocusTime + s.BreakTime
	if total == 0 {
		return 0
	}
	return float64(s.FocusTime) / float64(total) * 100
}

// Summarize groups events by session ID. Events without one (app start/stop)
// are skipped. Sessions are returned in start order.
func Summarize(events []event.Event) Summary {
	byID := make(map[string]*Session)
	var order []string

	for _, e := range events {
		if e.SessionID == "" {
			continue
		}
		s, ok := byID[e.SessionID]
		if !ok {
			s = &Session{ID: e.SessionID, Phase: e.Phase, StartedAt: e.Timestamp}
			byID[e.SessionID] = s
			order = append(order, e.SessionID)
		}
		if e.Timestamp.After(s.EndedAt) {
			s.EndedAt = e.Timestamp
		}

		switch e.Type {
		case event.EventTypeSessionStart:
			// The first start carries the full duration of the run.
			if s.Planned == 0 {
				s.Planned = time.Duration(e.Value) * time.Second
			}
		case event.EventTypeSessionPause, event.EventTypeEngineLost:
			s.Pauses++
		case event.EventTypeSessionReset:
			s.Reset = true
		case event.EventTypeSessionComplete:
			s.Completed = true
		}
	}

	var sum Summary
	for _, id := range order {
		s := byID[id]
		sum.Sessions = append(sum.Sessions, *s)
		sum.Interruptions += s.Pauses
		if s.Reset {
			sum.Interruptions++
		}
		if !s.Completed {
			continue
		}
		if s.Phase == event.PhaseBreak {
			sum.CompletedBreak++
			sum.BreakTime += s.Planned
		} else {
			sum.CompletedFocus++
			sum.FocusTime += s.Planned
		}
	}
	sort.SliceStable(sum.Sessions, func(i, j int) bool {
		return sum.Sessions[i].StartedAt.Before(sum.Sessions[j].StartedAt)
	})
	return sum
}

// Filter keeps the sessions of one phase.
func (s Summary) Filter(p event.Phase) []Session {
	var out []Session
	for _, sess := range s.Sessions {
		if sess.Phase == p {
			out = append(out, sess)
		}
	}
	return out
}

// FormatDuration renders d as MM:SS, or H:MM:SS past an hour.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
