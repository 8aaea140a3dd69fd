package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/wolf/internal/session"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running trace session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return fmt.Errorf("no active session")
			}
			return err
		}

		// The owning process watches this file and shuts down when it goes away.
		if err := store.Delete(); err != nil {
			return err
		}

		if processAlive(s.PID) {
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped tracing %s.\n", s.File)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed stale session for %s.\n", s.File)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
