package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/wolf/internal/editor"
	"github.com/fakeyudi/wolf/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Drive tracing from an editor over JSON lines on stdin/stdout",
	Long: `serve reads editor events (command, activeEditorChanged, textChanged,
saved, configChanged) as one JSON object per line on stdin and writes
annotation updates the same way on stdout. It exits when stdin closes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		c := GetConfig()
		c.RootDir = rootDir(c)
		p := newPipeline(c, store, editor.NewSink(cmd.OutOrStdout(), logger))

		var g errgroup.Group
		g.Go(func() error { return p.Run(ctx) })

		// Serve blocks in a read on stdin; it is not waited for after a signal.
		served := make(chan error, 1)
		go func() {
			served <- editor.Serve(ctx, editor.NewDecoder(cmd.InOrStdin(), c), p, logger)
			cancel()
		}()

		if err := g.Wait(); err != nil {
			return err
		}
		select {
		case err := <-served:
			return err
		default:
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
