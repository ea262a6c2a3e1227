package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"diamondfocus/internal/event"
	"diamondfocus/internal/output"
	"diamondfocus/internal/report"

	sqlitestore "diamondfocus/internal/storage/sqlite"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report on the recorded session log",
}

var reportSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List focus and break sessions with totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		phaseFlag, _ := cmd.Flags().GetString("phase")

		var phase event.Phase
		if phaseFlag != "" {
			p, ok := event.ParsePhase(phaseFlag)
			if !ok {
				return fmt.Errorf("invalid phase %q, use focus or break", phaseFlag)
			}
			phase = p
		}

		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("database file not found at %s. Ensure the daemon has run or pass --db: %w", dbPath, err)
		}

		end := time.Now()
		start := end.AddDate(0, 0, -days)

		store := sqlitestore.NewSQLiteStore(dbPath)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		events, err := store.GetEvents(ctx, start, end)
		if err != nil {
			return fmt.Errorf("fetch events: %w", err)
		}
		return renderSessions(ui, report.Summarize(events), phase)
	},
}

func renderSessions(w *output.UI, sum report.Summary, phase event.Phase) error {
	sessions := sum.Sessions
	if phase != "" {
		sessions = sum.Filter(phase)
	}
	if len(sessions) == 0 {
		w.Info("No sessions found for the specified period.")
		return nil
	}

	table := w.Table([]string{"Started", "Phase", "Planned", "Pauses", "Result", "Session"})
	for _, s := range sessions {
		table.Append([]string{
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			output.PhaseColor(string(s.Phase)),
			report.FormatDuration(s.Planned),
			fmt.Sprintf("%d", s.Pauses),
			sessionResult(s),
			s.ID,
		})
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}

	fmt.Fprintln(w.Out)
	fmt.Fprintf(w.Out, "Completed: %d focus (%s), %d break (%s)\n",
		sum.CompletedFocus, report.FormatDuration(sum.FocusTime),
		sum.CompletedBreak, report.FormatDuration(sum.BreakTime))
	fmt.Fprintf(w.Out, "Interruptions: %d  Efficiency: %.1f%%\n", sum.Interruptions, sum.Efficiency())
	return nil
}

func sessionResult(s report.Session) string {
	switch {
	case s.Completed:
		return output.Green("completed")
	case s.Reset:
		return output.Red("reset")
	default:
		return output.Yellow("open")
	}
}
