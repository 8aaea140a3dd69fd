package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/wolf/internal/session"
	"github.com/fakeyudi/wolf/internal/throttle"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current trace session",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				fmt.Fprintln(out, "no active session")
				return nil
			}
			return err
		}

		fmt.Fprintf(out, "File: %s\n", s.File)
		fmt.Fprintf(out, "State: %s\n", s.State)
		if s.Hot {
			fmt.Fprintf(out, "Mode: hot (%s)\n", throttle.SaveDelayFor(true, s.HotFrequency))
		} else {
			fmt.Fprintln(out, "Mode: on save")
		}
		fmt.Fprintf(out, "Started: %s\n", s.StartTime.Format(time.RFC3339))
		fmt.Fprintf(out, "Duration: %s\n", time.Since(s.StartTime).Round(time.Second).String())
		fmt.Fprintf(out, "Lines: %d\n", s.LineCount)
		if s.ConfigDirty {
			fmt.Fprintln(out, "Configuration changed: session stops on next focus")
		}
		if !processAlive(s.PID) {
			fmt.Fprintln(out, "Owner process is gone; run 'wolf stop' to clean up")
		}

		if results, err := session.NewResultStore(); err == nil {
			if r, err := results.Get(); err == nil && r.SessionID == s.ID {
				fmt.Fprintf(out, "Annotated lines: %d (as of %s)\n", len(r.Result.Lines), r.CapturedAt.Format("15:04:05"))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
