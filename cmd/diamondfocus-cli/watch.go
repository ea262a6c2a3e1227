package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"diamondfocus/internal/ipc"
)

const defaultWatchInterval = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the timer (space: start/pause, s: switch, r: reset, q: quit)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		return runWatch(socketPath, interval)
	},
}

// watchKeys maps keys of the live view to daemon commands.
var watchKeys = map[rune]string{
	' ': ipc.CmdToggle,
	's': ipc.CmdSwitchPhase,
	'r': ipc.CmdReset,
}

func runWatch(socket string, interval time.Duration) error {
	app := tview.NewApplication()
	view := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	view.SetBorder(true).SetTitle(" Diamond Focus ")

	var (
		mu      sync.Mutex
		lastErr string
	)
	refresh := func() {
		st, err := ipc.Status(socket)
		mu.Lock()
		text := renderWatch(st, err, lastErr)
		mu.Unlock()
		app.QueueUpdateDraw(func() { view.SetText(text) })
	}

	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
			app.Stop()
			return nil
		}
		name, ok := watchKeys[ev.Rune()]
		if !ok {
			return ev
		}
		go func() {
			resp, err := ipc.Send(socket, ipc.Command{Name: name})
			mu.Lock()
			switch {
			case err != nil:
				lastErr = err.Error()
			case !resp.Success:
				lastErr = resp.Message
			default:
				lastErr = ""
			}
			mu.Unlock()
			refresh()
		}()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		refresh()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	return app.SetRoot(view, true).Run()
}

// renderWatch builds the text of the live view.
func renderWatch(st ipc.StatusData, err error, lastErr string) string {
	if err != nil {
		return fmt.Sprintf("\n[red]Daemon unreachable[-]\n\n%s\n\n[gray]q: quit[-]", tview.Escape(err.Error()))
	}
	color := "green"
	if st.Phase == "Focus" {
		color = "red"
	}
	state := "stopped"
	if st.Running {
		state = "running"
	}
	text := fmt.Sprintf("\n[%s::b]%s[-::-]\n\n%s\n\n%s\n\n[gray]space: start/pause  s: switch  r: reset  q: quit[-]",
		color, st.Phase, tview.Escape(st.Title), state)
	if lastErr != "" {
		text += fmt.Sprintf("\n\n[yellow]%s[-]", tview.Escape(lastErr))
	}
	return text
}
