// Package alarm plays the sound that marks the end of a phase.
package alarm

import (
	"fmt"
	"log"
	"sort"

	"github.com/gen2brain/beeep"
)

// Sound describes how one named alarm is rendered.
type Sound struct {
	Title     string
	Message   string
	Frequency float64
	Duration  int // milliseconds
	Repeat    int
}

// Sounds lists the alarms that can be chosen in config.
var Sounds = map[string]Sound{
	"sciFiAlarm": {Title: "Diamond Focus", Message: "Time is up!", Frequency: 880, Duration: 400, Repeat: 3},
	"bell":       {Title: "Diamond Focus", Message: "Time is up!", Frequency: beeep.DefaultFreq, Duration: beeep.DefaultDuration, Repeat: 1},
}

// Names returns the known alarm names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Sounds))
	for name := range Sounds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves name, falling back to the default alarm.
func Lookup(name string) Sound {
	if s, ok := Sounds[name]; ok {
		return s
	}
	return Sounds["sciFiAlarm"]
}

// Player renders alarms through the desktop notifier and the system beeper.
type Player struct {
	notify func(title, message string) error
	beep   func(freq float64, duration int) error
}

func NewPlayer() *Player {
	return &Player{
		notify: func(title, message string) error { return beeep.Notify(title, message, "") },
		beep:   beeep.Beep,
	}
}

// Play shows the alert for sound and beeps. A failed notification does not
// stop the beep; the first error is returned.
func (p *Player) Play(sound string) error {
	s := Lookup(sound)
	var firstErr error
	if err := p.notify(s.Title, s.Message); err != nil {
		firstErr = fmt.Errorf("notify %s: %w", sound, err)
		log.Printf("Alarm: %v", firstErr)
	}
	for i := 0; i < s.Repeat; i++ {
		if err := p.beep(s.Frequency, s.Duration); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("beep %s: %w", sound, err)
			}
			break
		}
	}
	return firstErr
}
