// Package session drives the focus/break state machine. The Controller owns
// SessionState on a single goroutine and talks to the clock engine only by
// commands and notifications; it never measures elapsed time itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"diamondfocus/internal/config"
	"diamondfocus/internal/engine"
	"diamondfocus/internal/event"
)

var (
	// ErrClosed is returned by controller methods once Run has returned.
	ErrClosed = errors.New("session controller closed")
	// ErrRunning rejects a manual phase switch while the timer runs.
	ErrRunning = errors.New("timer is running")
)

// ConfigSource supplies the current settings; the controller re-reads it for
// every reset, switch and completion.
type ConfigSource interface {
	Pomodoro() config.PomodoroConfig
}

// Engine is the controller's view of a clock engine instance.
type Engine interface {
	Send(cmd engine.Command) error
	Notifications() <-chan engine.Notification
	Done() <-chan struct{}
}

// EngineFactory starts a fresh engine that lives until ctx is cancelled.
type EngineFactory func(ctx context.Context) Engine

// AlarmPlayer may block for as long as the sound lasts; the controller calls
// it off its own goroutine.
type AlarmPlayer interface {
	Play(sound string) error
}

type Presenter interface {
	Present(View)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(View)

func (f PresenterFunc) Present(v View) { f(v) }

// Recorder receives session-log events. Record must not block for long; it
// runs on the controller goroutine.
type Recorder interface {
	Record(event.Event)
}

type RecorderFunc func(event.Event)

func (f RecorderFunc) Record(e event.Event) { f(e) }

type Options struct {
	Clock      clockwork.Clock
	Engines    EngineFactory
	Alarm      AlarmPlayer
	Recorder   Recorder
	Presenters []Presenter
}

type action struct {
	fn   func() error
	done chan error
}

type Controller struct {
	source     ConfigSource
	clock      clockwork.Clock
	engines    EngineFactory
	alarm      AlarmPlayer
	recorder   Recorder
	presenters []Presenter

	actions chan action
	stopped chan struct{}
	alarms  conc.WaitGroup

	// Owned by the Run goroutine.
	ctx          context.Context
	state        State
	known        config.PomodoroConfig
	engine       Engine
	engineCancel context.CancelFunc
	entropy      *ulid.MonotonicEntropy
}

func New(source ConfigSource, opts Options) *Controller {
	cfg := source.Pomodoro()
	c := &Controller{
		source:     source,
		clock:      opts.Clock,
		engines:    opts.Engines,
		alarm:      opts.Alarm,
		recorder:   opts.Recorder,
		presenters: opts.Presenters,
		actions:    make(chan action),
		stopped:    make(chan struct{}),
		known:      cfg,
		state: State{
			Phase:        event.PhaseFocus,
			FocusCount:   cfg.FocusSeconds,
			BreakCount:   cfg.BreakSeconds,
			AutoSwitch:   cfg.AutoSwitch,
			AlertEnabled: cfg.AlertEnabled,
		},
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.engines == nil {
		c.engines = func(ctx context.Context) Engine { return engine.Spawn(ctx, c.clock) }
	}
	c.entropy = ulid.Monotonic(rand.New(rand.NewSource(c.clock.Now().UnixNano())), 0)
	return c
}

// Run serialises user actions and engine notifications until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.alarms.Wait()
	defer c.dropEngine()

	c.ctx = ctx
	c.publish()

	for {
		var notes <-chan engine.Notification
		var engineDone <-chan struct{}
		if c.engine != nil {
			notes = c.engine.Notifications()
			engineDone = c.engine.Done()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-c.actions:
			a.done <- a.fn()
		case n := <-notes:
			c.handleNotification(n)
		case <-engineDone:
			log.Println("Session: clock engine terminated unexpectedly")
			c.engineLost()
		}
	}
}

func (c *Controller) do(fn func() error) error {
	a := action{fn: fn, done: make(chan error, 1)}
	select {
	case c.actions <- a:
	case <-c.stopped:
		return ErrClosed
	}
	select {
	case err := <-a.done:
		return err
	case <-c.stopped:
		return ErrClosed
	}
}

// Start runs the active phase from its current count.
func (c *Controller) Start() error { return c.do(c.start) }

// Pause freezes the running phase.
func (c *Controller) Pause() error { return c.do(c.pause) }

// Toggle starts when stopped and pauses when running.
func (c *Controller) Toggle() error {
	return c.do(func() error {
		if c.state.Running {
			return c.pause()
		}
		return c.start()
	})
}

// SwitchPhase flips between focus and break without starting the timer.
func (c *Controller) SwitchPhase() error { return c.do(c.switchPhase) }

// Reset returns the active phase to its configured duration.
func (c *Controller) Reset() error { return c.do(c.reset) }

// Reload applies the settings currently held by the config source.
func (c *Controller) Reload() error { return c.do(c.reload) }

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() (State, error) {
	var s State
	err := c.do(func() error {
		s = c.state
		return nil
	})
	return s, err
}

func (c *Controller) start() error {
	if c.state.Running {
		return nil
	}
	resumed := c.state.Started
	if !resumed {
		c.state.SessionID = c.newSessionID()
		c.state.Started = true
	}
	c.state.Running = true
	c.send(engine.Start(c.state.Count()))
	if !c.state.Running {
		return nil
	}

	notes := "fresh"
	if resumed {
		notes = "resumed"
	}
	c.record(event.EventTypeSessionStart, notes)
	c.publish()
	return nil
}

func (c *Controller) pause() error {
	if !c.state.Running {
		return nil
	}
	c.state.Running = false
	c.send(engine.Pause())
	c.record(event.EventTypeSessionPause, "")
	c.publish()
	return nil
}

func (c *Controller) switchPhase() error {
	if c.state.Running {
		return fmt.Errorf("switch phase: %w", ErrRunning)
	}
	cfg := c.source.Pomodoro()
	next := c.state.Phase.Other()
	c.state.Phase = next
	c.state.Started = false
	c.state.setCount(next, durationFor(cfg, next))
	c.send(engine.Reset(c.state.Count()))
	c.record(event.EventTypePhaseSwitch, "manual")
	c.publish()
	return nil
}

func (c *Controller) reset() error {
	cfg := c.source.Pomodoro()
	active := c.state.Running || c.state.Started
	c.state.Running = false
	c.state.Started = false
	c.state.setCount(c.state.Phase, durationFor(cfg, c.state.Phase))
	c.send(engine.Reset(c.state.Count()))
	if active {
		c.record(event.EventTypeSessionReset, "")
	}
	c.publish()
	return nil
}

func (c *Controller) reload() error {
	cfg := c.source.Pomodoro()
	old := c.known
	c.known = cfg
	c.state.AutoSwitch = cfg.AutoSwitch
	c.state.AlertEnabled = cfg.AlertEnabled

	for _, p := range []event.Phase{event.PhaseFocus, event.PhaseBreak} {
		seconds := durationFor(cfg, p)
		if seconds == durationFor(old, p) {
			continue
		}
		c.state.setCount(p, seconds)
		if p != c.state.Phase {
			continue
		}
		if c.state.Running {
			log.Printf("Session: %s duration changed to %ds while running", p, seconds)
			c.send(engine.Change(seconds))
		} else {
			c.state.Started = false
			c.send(engine.Reset(seconds))
		}
	}
	c.publish()
	return nil
}

func (c *Controller) handleNotification(n engine.Notification) {
	if !c.state.Running || n.Generation != c.state.Generation {
		// In flight when a newer command was sent.
		return
	}
	c.state.setCount(c.state.Phase, n.Remaining)
	c.publish()
	if n.Remaining == 0 {
		c.complete()
	}
}

func (c *Controller) complete() {
	cfg := c.source.Pomodoro()
	finished := c.state.Phase
	c.record(event.EventTypeSessionComplete, "")

	if c.state.AlertEnabled && c.alarm != nil {
		c.playAlarm(cfg.AlarmName)
	}

	c.state.setCount(finished, durationFor(cfg, finished))
	if c.state.AutoSwitch {
		next := finished.Other()
		c.state.Phase = next
		c.state.setCount(next, durationFor(cfg, next))
		c.state.SessionID = c.newSessionID()
		c.send(engine.Start(c.state.Count()))
		if c.state.Running {
			c.record(event.EventTypeSessionStart, "auto switch")
		}
	} else {
		c.state.Running = false
		c.state.Started = false
		c.send(engine.Reset(c.state.Count()))
	}
	c.publish()
}

func (c *Controller) playAlarm(name string) {
	c.alarms.Go(func() {
		var catcher panics.Catcher
		catcher.Try(func() {
			if err := c.alarm.Play(name); err != nil {
				log.Printf("Session: alarm %q failed: %v", name, err)
			}
		})
		if r := catcher.Recovered(); r != nil {
			log.Printf("Session: alarm %q panicked: %v", name, r.AsError())
		}
	})
}

// send stamps cmd with a new generation and hands it to the engine. Pause and
// reset need no engine, so one is only spawned for start and change.
func (c *Controller) send(cmd engine.Command) {
	c.state.Generation++
	cmd.Generation = c.state.Generation

	if c.engine == nil {
		if cmd.Name != engine.CmdStart && cmd.Name != engine.CmdChange {
			return
		}
		ctx, cancel := context.WithCancel(c.ctx)
		c.engine = c.engines(ctx)
		c.engineCancel = cancel
	}
	if err := c.engine.Send(cmd); err != nil {
		log.Printf("Session: engine rejected %s: %v", cmd.Name, err)
		c.engineLost()
	}
}

// engineLost degrades a running session to paused; the next start spawns a
// fresh engine from the last reported count.
func (c *Controller) engineLost() {
	c.dropEngine()
	if c.state.Running {
		c.state.Running = false
		c.record(event.EventTypeEngineLost, "")
	}
	c.publish()
}

func (c *Controller) dropEngine() {
	if c.engineCancel != nil {
		c.engineCancel()
	}
	c.engine = nil
	c.engineCancel = nil
}

func (c *Controller) publish() {
	v := c.state.View()
	for _, p := range c.presenters {
		p.Present(v)
	}
}

func (c *Controller) record(t event.EventType, notes string) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(event.Event{
		Timestamp: c.clock.Now(),
		Type:      t,
		Phase:     c.state.Phase,
		Value:     float64(c.state.Count()),
		SessionID: c.state.SessionID,
		Notes:     notes,
	})
}

func (c *Controller) newSessionID() string {
	return ulid.MustNew(ulid.Timestamp(c.clock.Now()), c.entropy).String()
}

func durationFor(cfg config.PomodoroConfig, p event.Phase) int {
	if p == event.PhaseBreak {
		return cfg.BreakSeconds
	}
	return cfg.FocusSeconds
}
