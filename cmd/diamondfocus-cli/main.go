package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"diamondfocus/internal/config"
	"diamondfocus/internal/ipc"
	"diamondfocus/internal/output"
)

var (
	configPath string
	socketPath string
	dbPath     string
	verbose    bool

	ui = output.New()
)

var rootCmd = &cobra.Command{
	Use:           "diamondfocus-cli",
	Short:         "CLI tool to control the Diamond Focus daemon",
	Long:          `A command-line interface to start, pause and inspect the Diamond Focus timer via the daemon's Unix socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			log.SetOutput(io.Discard)
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if socketPath == "" {
			socketPath = cfg.SocketPath
		}
		if dbPath == "" {
			dbPath = cfg.DatabasePath
		}
		return nil
	},
}

// sendCommand sends cmd and prints the daemon's reply.
func sendCommand(w *output.UI, socket string, cmd ipc.Command) error {
	resp, err := ipc.Send(socket, cmd)
	if err != nil {
		return fmt.Errorf("%w\nIs the Diamond Focus daemon running?", err)
	}
	if !resp.Success {
		return errors.New(resp.Message)
	}
	if resp.Message != "" {
		w.Success("%s", resp.Message)
	}
	if resp.Data != nil {
		var st ipc.StatusData
		if err := ipc.DecodeData(resp.Data, &st); err != nil {
			return err
		}
		printStatus(w, st)
	}
	return nil
}

func printStatus(w *output.UI, st ipc.StatusData) {
	fmt.Fprintf(w.Out, "%s  %s  %s\n",
		output.PhaseColor(st.Phase),
		output.StateColor(st.State, st.Running),
		st.Title)
}

func controlCommand(use, short, name string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(ui, socketPath, ipc.Command{Name: name})
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current timer status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := ipc.Status(socketPath)
		if err != nil {
			return err
		}
		printStatus(ui, st)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	// The file may not exist yet, so the root config loading is skipped.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolve home directory: %w", err)
			}
			path = filepath.Join(home, ".config", "diamondfocus", "config.yaml")
		}
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		ui.Success("Wrote default configuration to %s", path)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Daemon socket path (default: from config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the Diamond Focus database file (default: from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show log output")

	rootCmd.AddCommand(controlCommand("ping", "Check if the Diamond Focus daemon is running", ipc.CmdPing))
	rootCmd.AddCommand(controlCommand("start", "Start or resume the active phase", ipc.CmdStart))
	rootCmd.AddCommand(controlCommand("pause", "Pause the running phase", ipc.CmdPause))
	rootCmd.AddCommand(controlCommand("toggle", "Start when stopped, pause when running", ipc.CmdToggle))
	rootCmd.AddCommand(controlCommand("switch", "Switch between focus and break (timer must be stopped)", ipc.CmdSwitchPhase))
	rootCmd.AddCommand(controlCommand("reset", "Reset the active phase to its configured duration", ipc.CmdReset))
	rootCmd.AddCommand(statusCmd)

	watchCmd.Flags().DurationP("interval", "i", defaultWatchInterval, "Status refresh interval")
	rootCmd.AddCommand(watchCmd)

	reportSessionsCmd.Flags().IntP("days", "d", 7, "Number of past days to include in the report")
	reportSessionsCmd.Flags().StringP("phase", "p", "", "Only show sessions of this phase (focus or break)")
	reportCmd.AddCommand(reportSessionsCmd)
	rootCmd.AddCommand(reportCmd)

	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	configInitCmd.Flags().String("path", "", "Where to write the file (default: ~/.config/diamondfocus/config.yaml)")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
