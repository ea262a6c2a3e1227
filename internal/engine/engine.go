// Package engine implements the countdown clock. It runs on its own goroutine,
// takes commands over a channel and reports remaining seconds once per tick.
// Remaining time is always recomputed from wall-clock timestamps, so a late
// or skipped tick never accumulates error.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"
)

// ErrStopped is returned by Send once the engine loop has exited.
var ErrStopped = errors.New("engine stopped")

const (
	defaultPeriod = time.Second
	commandBuffer = 16
	notifyBuffer  = 16
)

// Engine owns a State and the ticker driving it.
type Engine struct {
	clock  clockwork.Clock
	period time.Duration

	commands      chan Command
	notifications chan Notification
	done          chan struct{}

	// Fields below are touched only by the loop goroutine.
	state      State
	generation uint64
	ticker     clockwork.Ticker
	// lastEmitted suppresses a second emission within the same second when
	// the ticker delivers a backlog; -1 means nothing emitted since arming.
	lastEmitted int

	observer func(Command, State)
}

// New creates an engine that ticks every second on clock.
func New(clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock:         clock,
		period:        defaultPeriod,
		commands:      make(chan Command, commandBuffer),
		notifications: make(chan Notification, notifyBuffer),
		done:          make(chan struct{}),
		lastEmitted:   -1,
	}
}

// Spawn creates an engine and runs it until ctx is cancelled. A panic inside
// the loop is logged and ends the engine; Done is closed either way.
func Spawn(ctx context.Context, clock clockwork.Clock) *Engine {
	e := New(clock)
	e.Observe(logApplied)
	go func() {
		var catcher panics.Catcher
		catcher.Try(func() { e.Run(ctx) })
		if r := catcher.Recovered(); r != nil {
			log.Printf("Engine: loop panicked: %v", r.AsError())
		}
	}()
	return e
}

// Observe registers fn to run on the loop goroutine after each applied
// command, with the resulting state. It must be called before Run.
func (e *Engine) Observe(fn func(Command, State)) {
	e.observer = fn
}

func logApplied(cmd Command, s State) {
	log.Printf("Engine: applied %s (generation %d), remaining %ds, running %t", cmd.Name, cmd.Generation, s.Remaining, s.Running)
}

// Send queues cmd for the loop. It never waits on the loop itself, only on
// buffer space.
func (e *Engine) Send(cmd Command) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	select {
	case e.commands <- cmd:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// Notifications streams remaining-second values. It is never closed; watch
// Done to learn that the engine is gone.
func (e *Engine) Notifications() <-chan Notification { return e.notifications }

// Done is closed when the loop exits.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Run processes commands and ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	defer e.stopTicker()

	for {
		var tickC <-chan time.Time
		if e.ticker != nil {
			tickC = e.ticker.Chan()
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-e.commands:
			e.handle(cmd)
		case <-tickC:
			if !e.tick(ctx) {
				return
			}
		}
	}
}

func (e *Engine) handle(cmd Command) {
	seconds, err := cmd.Validate()
	if err != nil {
		log.Printf("Engine: ignoring command: %v", err)
		return
	}
	now := e.clock.Now()
	e.generation = cmd.Generation

	switch cmd.Name {
	case CmdStart:
		if e.state.Start(seconds, now) {
			e.armTicker()
		}
	case CmdPause:
		e.state.Pause(now)
		e.stopTicker()
	case CmdChange:
		e.stopTicker()
		e.state.Change(seconds, now)
		e.armTicker()
	case CmdReset:
		e.stopTicker()
		e.state.Reset(seconds, now)
	}
	if e.observer != nil {
		e.observer(cmd, e.state)
	}
}

// tick reports false when ctx ended while waiting to emit.
func (e *Engine) tick(ctx context.Context) bool {
	remaining, done := e.state.Tick(e.clock.Now())
	if done {
		e.stopTicker()
	} else if remaining == e.lastEmitted {
		return true
	}
	e.lastEmitted = remaining
	select {
	case e.notifications <- Notification{Remaining: remaining, Generation: e.generation}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) armTicker() {
	e.stopTicker()
	e.lastEmitted = -1
	e.ticker = e.clock.NewTicker(e.period)
}

func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}
