package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"

	"diamondfocus/internal/alarm"
	"diamondfocus/internal/config"
	"diamondfocus/internal/event"
	"diamondfocus/internal/ipc"
	"diamondfocus/internal/session"
	"diamondfocus/internal/storage"

	sqlitestore "diamondfocus/internal/storage/sqlite"
)

type App struct {
	cfg        *config.Config
	live       *config.Live
	clock      clockwork.Clock
	storage    storage.Storage
	controller *session.Controller
	watch      bool

	socketPath string
	listener   *net.UnixListener

	eventChan chan event.Event

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Last view published by the controller, served by the status command.
	currentStatus session.View
	statusMutex   sync.RWMutex
}

func NewApp(cfg *config.Config) (*App, error) {
	a, err := newApp(cfg, clockwork.NewRealClock(), alarm.NewPlayer())
	if err != nil {
		return nil, err
	}
	a.watch = true
	return a, nil
}

func newApp(cfg *config.Config, clock clockwork.Clock, player session.AlarmPlayer) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		live:       config.NewLive(cfg.Pomodoro),
		clock:      clock,
		eventChan:  make(chan event.Event, 100),
		socketPath: cfg.SocketPath,
		ctx:        ctx,
		cancel:     cancel,
		currentStatus: session.View{
			Status:    session.StatusIdle,
			Phase:     event.PhaseFocus,
			Remaining: cfg.Pomodoro.FocusSeconds,
			Title:     session.Title(session.State{}),
		},
	}

	a.storage = sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	if err := a.storage.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.controller = session.New(a.live, session.Options{
		Clock:    clock,
		Alarm:    player,
		Recorder: session.RecorderFunc(a.recordEvent),
		Presenters: []session.Presenter{
			session.PresenterFunc(a.setStatus),
			newTitleLogger(),
		},
	})

	return a, nil
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer log.Println("Socket command listener stopped.")

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return
			default:
				log.Printf("Failed to accept connection: %v", err)
				if errors.Is(err, net.ErrClosed) {
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		a.wg.Go(func() { a.handleConnection(conn) })
	}
}

// handleConnection reads command, processes it, and sends response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	log.Printf("Received command: %s", cmd.Name)

	response := a.processCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// processCommand routes the command to the controller
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	var (
		err error
		msg string
	)
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}
	case ipc.CmdStatus:
		return ipc.Response{Success: true, Data: a.status()}
	case ipc.CmdStart:
		err, msg = a.controller.Start(), "Timer started"
	case ipc.CmdPause:
		err, msg = a.controller.Pause(), "Timer paused"
	case ipc.CmdToggle:
		err, msg = a.controller.Toggle(), "Timer toggled"
	case ipc.CmdSwitchPhase:
		err, msg = a.controller.SwitchPhase(), "Phase switched"
	case ipc.CmdReset:
		err, msg = a.controller.Reset(), "Timer reset"
	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}

	if err != nil {
		return ipc.Response{Success: false, Message: fmt.Sprintf("%s failed: %v", cmd.Name, err)}
	}
	return ipc.Response{Success: true, Message: msg, Data: a.status()}
}

func (a *App) status() ipc.StatusData {
	a.statusMutex.RLock()
	defer a.statusMutex.RUnlock()
	v := a.currentStatus
	return ipc.StatusData{
		State:         string(v.Status),
		Phase:         string(v.Phase),
		Running:       v.Running,
		RemainingSecs: v.Remaining,
		Title:         v.Title,
	}
}

func (a *App) setStatus(v session.View) {
	a.statusMutex.Lock()
	a.currentStatus = v
	a.statusMutex.Unlock()
}

// recordEvent runs on the controller goroutine, so it never waits on storage.
func (a *App) recordEvent(e event.Event) {
	select {
	case a.eventChan <- e:
	default:
		log.Printf("Warning: event queue full, dropping %s event", e.Type)
	}
}

// applyConfig is called by the config watcher with the re-read settings.
func (a *App) applyConfig(p config.PomodoroConfig) {
	a.live.Set(p)
	if err := a.controller.Reload(); err != nil {
		log.Printf("Warning: failed to apply config change: %v", err)
		return
	}
	log.Printf("Pomodoro settings reloaded: focus=%ds break=%ds auto_switch=%t alert=%t",
		p.FocusSeconds, p.BreakSeconds, p.AutoSwitch, p.AlertEnabled)
}

func (a *App) Run() error {
	defer a.cleanup()

	log.Println("Starting Diamond Focus daemon...")
	log.Printf("Config: %+v", a.cfg)

	if err := a.setupSocket(); err != nil {
		return err
	}

	a.handleSignals()

	a.wg.Go(a.processEvents)

	a.wg.Go(func() {
		if err := a.controller.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Session controller stopped: %v", err)
		}
	})

	if a.watch {
		config.Watch(a.applyConfig)
	}

	a.wg.Go(a.listenForCommands)

	_, err := a.storage.SaveEvent(a.ctx, event.Event{Timestamp: a.clock.Now(), Type: event.EventTypeAppStart})
	if err != nil {
		log.Printf("Warning: Failed to save AppStart event: %v", err)
	}

	log.Println("Diamond Focus daemon running. Send commands via diamondfocus-cli or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")

	// Unblocks AcceptUnix.
	if err := a.listener.Close(); err != nil {
		log.Printf("Error closing socket listener: %v", err)
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}

	log.Println("Diamond Focus daemon finished.")
	return nil
}

// Stop cancels the application context.
func (a *App) Stop() {
	a.cancel()
}

// processEvents persists the session log
func (a *App) processEvents() {
	defer log.Println("Event processor stopped.")

	for {
		select {
		case <-a.ctx.Done():
			a.drainEvents()
			return
		case e := <-a.eventChan:
			a.saveEvent(a.ctx, e)
		}
	}
}

// drainEvents saves what is still queued at shutdown.
func (a *App) drainEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-a.eventChan:
			a.saveEvent(ctx, e)
		default:
			return
		}
	}
}

func (a *App) saveEvent(ctx context.Context, e event.Event) {
	if _, err := a.storage.SaveEvent(ctx, e); err != nil {
		log.Printf("Error saving event (Type: %s, Session: %s): %v", e.Type, e.SessionID, err)
		return
	}
	log.Printf("Event saved: Type=%s, Phase=%s, Value=%.0f, Notes=%s", e.Type, e.Phase, e.Value, e.Notes)
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v. Initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
	}()
}

func (a *App) cleanup() {
	log.Println("Running cleanup...")
	a.cancel()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer saveCancel()
	_, err := a.storage.SaveEvent(saveCtx, event.Event{Timestamp: a.clock.Now(), Type: event.EventTypeAppStop})
	if err != nil {
		log.Printf("Warning: Failed to save AppStop event: %v", err)
	}

	if err := a.storage.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	if a.listener != nil {
		if _, err := os.Stat(a.socketPath); err == nil {
			log.Printf("Removing socket file: %s", a.socketPath)
			if err := os.Remove(a.socketPath); err != nil {
				log.Printf("Warning: Failed to remove socket file %s: %v", a.socketPath, err)
			}
		}
	}

	log.Println("Cleanup finished.")
}

// newTitleLogger logs the window title whenever the session status changes.
func newTitleLogger() session.Presenter {
	var last session.Status
	return session.PresenterFunc(func(v session.View) {
		if v.Status == last {
			return
		}
		last = v.Status
		log.Printf("Session %s: %s", v.Status, v.Title)
	})
}
