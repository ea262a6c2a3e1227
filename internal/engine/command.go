package engine

import (
	"errors"
	"fmt"
)

// ErrMalformedCommand marks a command whose payload cannot be applied.
var ErrMalformedCommand = errors.New("malformed engine command")

// CommandName identifies an engine operation.
type CommandName string

const (
	CmdStart  CommandName = "start"
	CmdPause  CommandName = "pause"
	CmdChange CommandName = "change"
	CmdReset  CommandName = "reset"
)

// Command is a message from the session controller to the engine.
// Seconds is required for start, change and reset and ignored for pause.
type Command struct {
	Name       CommandName
	Seconds    *int
	Generation uint64
}

// Notification is the engine's only output: the remaining seconds of the
// run armed by the command tagged Generation.
type Notification struct {
	Remaining  int
	Generation uint64
}

func Start(seconds int) Command  { return Command{Name: CmdStart, Seconds: &seconds} }
func Pause() Command             { return Command{Name: CmdPause} }
func Change(seconds int) Command { return Command{Name: CmdChange, Seconds: &seconds} }
func Reset(seconds int) Command  { return Command{Name: CmdReset, Seconds: &seconds} }

// Validate checks that the command can be applied and returns the duration
// it carries (zero for pause).
func (c Command) Validate() (int, error) {
	switch c.Name {
	case CmdPause:
		return 0, nil
	case CmdStart, CmdChange, CmdReset:
	default:
		return 0, fmt.Errorf("%w: unknown command %q", ErrMalformedCommand, c.Name)
	}
	if c.Seconds == nil {
		return 0, fmt.Errorf("%w: %s without seconds", ErrMalformedCommand, c.Name)
	}
	if *c.Seconds < 0 {
		return 0, fmt.Errorf("%w: %s with negative seconds %d", ErrMalformedCommand, c.Name, *c.Seconds)
	}
	return *c.Seconds, nil
}
