package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diamondfocus/internal/config"
	"diamondfocus/internal/engine"
	"diamondfocus/internal/event"
)

const waitTimeout = 2 * time.Second

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() config.PomodoroConfig {
	return config.PomodoroConfig{
		FocusSeconds: 1500,
		BreakSeconds: 300,
		AutoSwitch:   true,
		AlertEnabled: true,
		AlarmName:    "sciFiAlarm",
	}
}

type fakeAlarm struct {
	mu     sync.Mutex
	sounds []string
}

func (a *fakeAlarm) Play(sound string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sounds = append(a.sounds, sound)
	return nil
}

func (a *fakeAlarm) played() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sounds...)
}

// stuckAlarm holds Play until release is closed, like a desktop notifier
// waiting on a slow bus.
type stuckAlarm struct {
	started chan string
	release chan struct{}
}

func (a *stuckAlarm) Play(sound string) error {
	a.started <- sound
	<-a.release
	return nil
}

type memRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *memRecorder) Record(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *memRecorder) types() []event.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeEngine lets tests observe commands and inject notifications. The
// notification channel is unbuffered so an injected value is fully handled
// before the controller takes its next action.
type fakeEngine struct {
	cmds  chan engine.Command
	notes chan engine.Notification
	done  chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		cmds:  make(chan engine.Command, 16),
		notes: make(chan engine.Notification),
		done:  make(chan struct{}),
	}
}

func (f *fakeEngine) Send(cmd engine.Command) error {
	select {
	case <-f.done:
		return engine.ErrStopped
	default:
	}
	f.cmds <- cmd
	return nil
}
func (f *fakeEngine) Notifications() <-chan engine.Notification { return f.notes }
func (f *fakeEngine) Done() <-chan struct{}                     { return f.done }

func (f *fakeEngine) nextCommand(t *testing.T) engine.Command {
	t.Helper()
	select {
	case cmd := <-f.cmds:
		return cmd
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for engine command")
		return engine.Command{}
	}
}

func (f *fakeEngine) notify(t *testing.T, remaining int, generation uint64) {
	t.Helper()
	select {
	case f.notes <- engine.Notification{Remaining: remaining, Generation: generation}:
	case <-time.After(waitTimeout):
		t.Fatal("controller did not take notification")
	}
}

type harness struct {
	c      *Controller
	live   *config.Live
	clock  *clockwork.FakeClock
	alarm  *fakeAlarm
	rec    *memRecorder
	views  chan View
	mu     sync.Mutex
	spawns []*fakeEngine
	// applied receives every command a real engine has finished handling.
	applied chan engine.Command
}

func newHarness(t *testing.T, cfg config.PomodoroConfig, fake bool) *harness {
	t.Helper()
	return newHarnessWithAlarm(t, cfg, fake, nil)
}

// newHarnessWithAlarm uses player instead of the recording fakeAlarm when it
// is not nil.
func newHarnessWithAlarm(t *testing.T, cfg config.PomodoroConfig, fake bool, player AlarmPlayer) *harness {
	t.Helper()
	h := &harness{
		live:    config.NewLive(cfg),
		clock:   clockwork.NewFakeClockAt(epoch),
		alarm:   &fakeAlarm{},
		rec:     &memRecorder{},
		views:   make(chan View, 64),
		applied: make(chan engine.Command, 64),
	}
	if player == nil {
		player = h.alarm
	}
	opts := Options{
		Clock:    h.clock,
		Alarm:    player,
		Recorder: h.rec,
		Presenters: []Presenter{PresenterFunc(func(v View) {
			// Keep only the newest views when the test is not reading.
			for {
				select {
				case h.views <- v:
					return
				default:
					select {
					case <-h.views:
					default:
					}
				}
			}
		})},
	}
	if fake {
		opts.Engines = func(ctx context.Context) Engine {
			f := newFakeEngine()
			h.mu.Lock()
			h.spawns = append(h.spawns, f)
			h.mu.Unlock()
			return f
		}
	} else {
		opts.Engines = func(ctx context.Context) Engine {
			e := engine.New(h.clock)
			e.Observe(func(cmd engine.Command, _ engine.State) { h.applied <- cmd })
			go e.Run(ctx)
			return e
		}
	}
	h.c = New(h.live, opts)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return h
}

func (h *harness) engine(t *testing.T, i int) *fakeEngine {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(t, len(h.spawns), i, "engine %d was not spawned", i)
	return h.spawns[i]
}

func (h *harness) spawnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spawns)
}

func (h *harness) waitView(t *testing.T, match func(View) bool) View {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v := <-h.views:
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for view")
			return View{}
		}
	}
}

// waitApplied blocks until a real engine has handled a command named name,
// so later clock moves act on the resulting state.
func (h *harness) waitApplied(t *testing.T, name engine.CommandName) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case cmd := <-h.applied:
			if cmd.Name == name {
				return
			}
		case <-deadline:
			t.Fatalf("engine did not apply %s", name)
		}
	}
}

func (h *harness) snapshot(t *testing.T) State {
	t.Helper()
	s, err := h.c.Snapshot()
	require.NoError(t, err)
	return s
}

func TestControllerInitialState(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	s := h.snapshot(t)
	assert.Equal(t, event.PhaseFocus, s.Phase)
	assert.Equal(t, 1500, s.FocusCount)
	assert.Equal(t, 300, s.BreakCount)
	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, 0, h.spawnCount(), "engine is spawned lazily")
}

func TestControllerFocusCompletesAndSwitchesToBreak(t *testing.T) {
	h := newHarness(t, testConfig(), false)

	require.NoError(t, h.c.Start())
	h.waitApplied(t, engine.CmdStart)

	h.clock.Advance(1500 * time.Second)
	last := 1501
	h.waitView(t, func(v View) bool {
		if v.Phase == event.PhaseFocus && v.Running {
			require.LessOrEqual(t, v.Remaining, last, "focus countdown must not increase")
			last = v.Remaining
		}
		return v.Phase == event.PhaseBreak && v.Running
	})
	assert.Equal(t, 0, last, "focus ended on zero")
	require.Eventually(t, func() bool { return len(h.alarm.played()) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"sciFiAlarm"}, h.alarm.played())

	h.waitApplied(t, engine.CmdStart)
	h.clock.Advance(time.Second)
	v := h.waitView(t, func(v View) bool { return v.Remaining < 300 })
	assert.Equal(t, event.PhaseBreak, v.Phase)
	assert.Equal(t, 299, v.Remaining)
	assert.Equal(t, StatusBreakRunning, v.Status)

	s := h.snapshot(t)
	assert.Equal(t, 1500, s.FocusCount, "completed focus phase is reset")
	assert.Len(t, h.alarm.played(), 1)
}

func TestControllerPauseFreezesElapsedTime(t *testing.T) {
	h := newHarness(t, testConfig(), false)

	require.NoError(t, h.c.Start())
	h.waitApplied(t, engine.CmdStart)
	h.clock.Advance(500 * time.Second)
	h.waitView(t, func(v View) bool { return v.Running && v.Remaining == 1000 })

	require.NoError(t, h.c.Pause())
	h.waitApplied(t, engine.CmdPause)
	assert.Equal(t, StatusFocusPaused, h.snapshot(t).Status())

	h.clock.Advance(50 * time.Second)
	require.NoError(t, h.c.Start())
	h.waitApplied(t, engine.CmdStart)
	h.clock.Advance(time.Second)

	v := h.waitView(t, func(v View) bool { return v.Remaining < 1000 })
	assert.Equal(t, 999, v.Remaining)
}

func TestControllerDiscardsStaleNotifications(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.Start())
	eng := h.engine(t, 0)
	start := eng.nextCommand(t)
	assert.Equal(t, engine.CmdStart, start.Name)
	assert.Equal(t, 1500, *start.Seconds)

	eng.notify(t, 1499, start.Generation)
	assert.Equal(t, 1499, h.snapshot(t).FocusCount)

	require.NoError(t, h.c.Pause())
	pause := eng.nextCommand(t)
	assert.Greater(t, pause.Generation, start.Generation)

	// A tick emitted before the pause arrives after it.
	eng.notify(t, 1498, start.Generation)
	assert.Equal(t, 1499, h.snapshot(t).FocusCount)

	require.NoError(t, h.c.SwitchPhase())
	reset := eng.nextCommand(t)
	assert.Equal(t, engine.CmdReset, reset.Name)
	assert.Equal(t, 300, *reset.Seconds)

	eng.notify(t, 7, start.Generation)
	eng.notify(t, 7, reset.Generation)
	s := h.snapshot(t)
	assert.Equal(t, 1499, s.FocusCount, "inactive phase untouched")
	assert.Equal(t, 300, s.BreakCount, "idle phase ignores ticks")
}

func TestControllerStartResumesFromReportedCount(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.Start())
	eng := h.engine(t, 0)
	start := eng.nextCommand(t)
	eng.notify(t, 1000, start.Generation)

	require.NoError(t, h.c.Pause())
	eng.nextCommand(t)
	require.NoError(t, h.c.Start())
	resume := eng.nextCommand(t)
	assert.Equal(t, engine.CmdStart, resume.Name)
	assert.Equal(t, 1000, *resume.Seconds)

	require.NoError(t, h.c.Start())
	select {
	case cmd := <-eng.cmds:
		t.Fatalf("second start sent %+v", cmd)
	default:
	}
}

func TestControllerCompletionWithoutAutoSwitch(t *testing.T) {
	cfg := testConfig()
	cfg.AutoSwitch = false
	h := newHarness(t, cfg, true)

	require.NoError(t, h.c.Start())
	eng := h.engine(t, 0)
	start := eng.nextCommand(t)
	eng.notify(t, 0, start.Generation)

	reset := eng.nextCommand(t)
	assert.Equal(t, engine.CmdReset, reset.Name)
	assert.Equal(t, 1500, *reset.Seconds)

	s := h.snapshot(t)
	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, event.PhaseFocus, s.Phase)
	assert.Equal(t, 1500, s.FocusCount)
	require.Eventually(t, func() bool { return len(h.alarm.played()) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"sciFiAlarm"}, h.alarm.played())
}

func TestControllerAlarmDoesNotHoldSession(t *testing.T) {
	player := &stuckAlarm{started: make(chan string, 1), release: make(chan struct{})}
	h := newHarnessWithAlarm(t, testConfig(), true, player)
	// Runs before the harness stops the controller.
	t.Cleanup(func() { close(player.release) })

	require.NoError(t, h.c.Start())
	eng := h.engine(t, 0)
	start := eng.nextCommand(t)
	eng.notify(t, 0, start.Generation)

	select {
	case sound := <-player.started:
		assert.Equal(t, "sciFiAlarm", sound)
	case <-time.After(waitTimeout):
		t.Fatal("alarm was not played")
	}

	next := eng.nextCommand(t)
	assert.Equal(t, engine.CmdStart, next.Name)
	assert.Equal(t, 300, *next.Seconds)

	paused := make(chan error, 1)
	go func() { paused <- h.c.Pause() }()
	select {
	case err := <-paused:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("pause waited on the alarm")
	}
	assert.Equal(t, StatusBreakPaused, h.snapshot(t).Status())
}

func TestControllerCompletionWithoutAlert(t *testing.T) {
	cfg := testConfig()
	cfg.AlertEnabled = false
	h := newHarness(t, cfg, true)

	require.NoError(t, h.c.Start())
	eng := h.engine(t, 0)
	start := eng.nextCommand(t)
	eng.notify(t, 0, start.Generation)

	next := eng.nextCommand(t)
	assert.Equal(t, engine.CmdStart, next.Name)
	assert.Equal(t, 300, *next.Seconds)
	assert.Empty(t, h.alarm.played())
	assert.Equal(t, StatusBreakRunning, h.snapshot(t).Status())
}

func TestControllerReset(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.Start())
	eng := h.engine(t, 0)
	start := eng.nextCommand(t)
	eng.notify(t, 1200, start.Generation)

	require.NoError(t, h.c.Reset())
	reset := eng.nextCommand(t)
	assert.Equal(t, engine.CmdReset, reset.Name)
	assert.Equal(t, 1500, *reset.Seconds)

	s := h.snapshot(t)
	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, 1500, s.FocusCount)
	assert.Equal(t, event.PhaseFocus, s.Phase)
}

func TestControllerSwitchPhaseRejectedWhileRunning(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.Start())
	err := h.c.SwitchPhase()
	assert.ErrorIs(t, err, ErrRunning)
	assert.Equal(t, event.PhaseFocus, h.snapshot(t).Phase)
}

func TestControllerSwitchPhaseFromIdle(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.SwitchPhase())
	s := h.snapshot(t)
	assert.Equal(t, event.PhaseBreak, s.Phase)
	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, 0, h.spawnCount(), "reset needs no engine")

	require.NoError(t, h.c.Start())
	start := h.engine(t, 0).nextCommand(t)
	assert.Equal(t, 300, *start.Seconds)
}

func TestControllerConfigChangeWhileRunning(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.Start())
	eng := h.engine(t, 0)
	eng.nextCommand(t)

	cfg := testConfig()
	cfg.FocusSeconds = 600
	cfg.BreakSeconds = 120
	h.live.Set(cfg)
	require.NoError(t, h.c.Reload())

	change := eng.nextCommand(t)
	assert.Equal(t, engine.CmdChange, change.Name)
	assert.Equal(t, 600, *change.Seconds)

	s := h.snapshot(t)
	assert.True(t, s.Running)
	assert.Equal(t, 600, s.FocusCount)
	assert.Equal(t, 120, s.BreakCount)

	eng.notify(t, 599, change.Generation)
	assert.Equal(t, 599, h.snapshot(t).FocusCount)
}

func TestControllerConfigChangeWhileIdle(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	cfg := testConfig()
	cfg.FocusSeconds = 900
	cfg.AutoSwitch = false
	h.live.Set(cfg)
	require.NoError(t, h.c.Reload())

	s := h.snapshot(t)
	assert.Equal(t, 900, s.FocusCount)
	assert.False(t, s.AutoSwitch)
	assert.Equal(t, StatusIdle, s.Status())
}

func TestControllerEngineLossDegradesToPaused(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.Start())
	eng := h.engine(t, 0)
	start := eng.nextCommand(t)
	eng.notify(t, 1400, start.Generation)

	close(eng.done)
	h.waitView(t, func(v View) bool { return v.Status == StatusFocusPaused })

	s := h.snapshot(t)
	assert.Equal(t, StatusFocusPaused, s.Status())
	assert.Equal(t, 1400, s.FocusCount)
	assert.Contains(t, h.rec.types(), event.EventTypeEngineLost)

	require.NoError(t, h.c.Start())
	replacement := h.engine(t, 1)
	resume := replacement.nextCommand(t)
	assert.Equal(t, engine.CmdStart, resume.Name)
	assert.Equal(t, 1400, *resume.Seconds)
}

func TestControllerToggle(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.Toggle())
	assert.True(t, h.snapshot(t).Running)
	require.NoError(t, h.c.Toggle())
	assert.Equal(t, StatusFocusPaused, h.snapshot(t).Status())
}

func TestControllerRecordsSessionLog(t *testing.T) {
	h := newHarness(t, testConfig(), true)

	require.NoError(t, h.c.Start())
	require.NoError(t, h.c.Pause())
	require.NoError(t, h.c.Start())
	require.NoError(t, h.c.Reset())

	assert.Equal(t, []event.EventType{
		event.EventTypeSessionStart,
		event.EventTypeSessionPause,
		event.EventTypeSessionStart,
		event.EventTypeSessionReset,
	}, h.rec.types())

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	id := h.rec.events[0].SessionID
	assert.NotEmpty(t, id)
	for _, e := range h.rec.events {
		assert.Equal(t, id, e.SessionID, "one phase run shares a session id")
		assert.Equal(t, event.PhaseFocus, e.Phase)
	}
	assert.Equal(t, "resumed", h.rec.events[2].Notes)
}

func TestControllerClosed(t *testing.T) {
	c := New(config.NewLive(testConfig()), Options{Clock: clockwork.NewFakeClock()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ErrorIs(t, c.Start(), ErrClosed)
}
