package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/wolf/internal/annotate"
	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/session"
	"github.com/fakeyudi/wolf/internal/tracer"
	"github.com/fakeyudi/wolf/internal/tui"
)

var traceWidth int

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Trace a file once and print the annotated source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		src, err := tui.ReadLines(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("file not found: %s", args[0])
			}
			return err
		}

		c := GetConfig()
		outcome, err := traceOnce(cmd.Context(), c, file)
		if err != nil {
			return err
		}
		if outcome.missing {
			cmd.PrintErrln("Installing the tracer dependency...")
			if err := newInstaller(c).Install(cmd.Context()); err != nil {
				return err
			}
			if outcome, err = traceOnce(cmd.Context(), c, file); err != nil {
				return err
			}
			if outcome.missing {
				return fmt.Errorf("tracer dependency still missing after install")
			}
		}

		red := color.New(color.FgRed)
		for _, d := range outcome.diagnostics {
			red.Fprintln(cmd.ErrOrStderr(), d)
		}
		if outcome.result == nil {
			return fmt.Errorf("tracer produced no output for %s", args[0])
		}

		var set annotate.Set
		set.Replace(outcome.result, len(src))
		fmt.Fprint(cmd.OutOrStdout(), annotate.Render(src, set.Annotations(len(src)), annotate.RenderOptions{
			Width:  traceWidth,
			Gutter: c.GutterEnabled(),
		}))

		if results, err := session.NewResultStore(); err == nil {
			err = results.Put(&session.StoredResult{
				File:       file,
				LineCount:  len(src),
				CapturedAt: time.Now(),
				Result:     outcome.result,
			})
			if err != nil {
				logger.Warn("storing trace result", "error", err)
			}
		}
		return nil
	},
}

type traceOutcome struct {
	result      *tracer.Result
	diagnostics []string
	missing     bool
}

// traceOnce runs the tracer for file to completion. The last result wins.
func traceOnce(ctx context.Context, c config.Config, file string) (traceOutcome, error) {
	events := make(chan tracer.Event, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- newRunner(c).Run(ctx, tracer.Job{Generation: 1, File: file, RootDir: rootDir(c)}, events)
		close(events)
	}()

	var o traceOutcome
	for ev := range events {
		switch ev.Kind {
		case tracer.EventResult:
			o.result = ev.Result
		case tracer.EventDiagnostic:
			o.diagnostics = append(o.diagnostics, ev.Message)
		case tracer.EventMissingDependency:
			o.missing = true
		}
	}
	return o, <-errc
}

func init() {
	traceCmd.Flags().IntVar(&traceWidth, "width", 0, "truncate output lines to this width (0 = no limit)")
	rootCmd.AddCommand(traceCmd)
}
