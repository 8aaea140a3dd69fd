package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/pipeline"
	"github.com/fakeyudi/wolf/internal/prompt"
	"github.com/fakeyudi/wolf/internal/session"
	"github.com/fakeyudi/wolf/internal/tui"
	"github.com/fakeyudi/wolf/internal/watch"
)

var (
	startHot       bool
	startFrequency int
	startPlain     bool
)

var startCmd = &cobra.Command{
	Use:   "start <file>",
	Short: "Trace a file and re-trace it every time it is saved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if info, err := os.Stat(file); err != nil || info.IsDir() {
			return fmt.Errorf("file not found: %s", args[0])
		}

		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		s, err := store.Load()
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			return err
		}
		if s != nil {
			if processAlive(s.PID) {
				return fmt.Errorf("session already in progress (tracing %s since %s)", s.File, s.StartTime.Format(time.RFC3339))
			}
			logger.Info("removing stale session", "id", s.ID, "pid", s.PID)
			if err := store.Delete(); err != nil {
				return err
			}
		}

		c := withStartFlags(cmd, GetConfig())
		if c.IsHot() && !c.WarningDisabled() {
			proceed, err := confirmHot(cmd)
			if err != nil {
				return err
			}
			if !proceed {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}

		return runLive(cmd, file, c, store)
	},
}

// withStartFlags applies command-line overrides to c.
func withStartFlags(cmd *cobra.Command, c config.Config) config.Config {
	if cmd.Flags().Changed("hot") {
		c.Hot = config.Bool(startHot)
	}
	if cmd.Flags().Changed("frequency") {
		c.HotFrequency = startFrequency
		c.Hot = config.Bool(true)
	}
	return c
}

// confirmHot shows the hot-mode warning. "never" is remembered in the
// global config. Without a terminal there is nobody to ask, so it proceeds.
func confirmHot(cmd *cobra.Command) (bool, error) {
	if !term.IsTerminal(os.Stdin.Fd()) {
		logger.Warn("hot mode enabled without an interactive terminal, skipping the warning")
		return true, nil
	}
	choice, err := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout()).HotWarning()
	if err != nil {
		return false, err
	}
	switch choice {
	case prompt.HotNever:
		global, err := config.LoadGlobal()
		if err != nil {
			return false, err
		}
		global.HotModeWarningDisabled = config.Bool(true)
		if err := config.SaveGlobal(global); err != nil {
			return false, fmt.Errorf("saving config: %w", err)
		}
		cfg.HotModeWarningDisabled = config.Bool(true)
		return true, nil
	case prompt.HotProceed:
		return true, nil
	}
	return false, nil
}

// stopOnStop cancels the run once a stop event has been delivered, so an
// external `wolf stop` ends this process too.
type stopOnStop struct {
	p      *pipeline.Pipeline
	cancel context.CancelFunc
}

func (s stopOnStop) Post(ev pipeline.Event) bool {
	ok := s.p.Post(ev)
	if _, stop := ev.(pipeline.StopCommand); stop {
		s.cancel()
	}
	return ok
}

// runLive traces file until interrupted, the user quits the view, or the
// session is stopped from another shell.
func runLive(cmd *cobra.Command, file string, c config.Config, store session.SessionStore) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	plain := startPlain || !term.IsTerminal(os.Stdout.Fd())

	var sink pipeline.Sink
	var prog *tea.Program
	if plain {
		width := 0
		if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil {
			width = w
		}
		sink = tui.NewPlainSink(cmd.OutOrStdout(), nil, width)
	} else {
		prog = tui.NewProgram(ctx, tui.New(file, nil))
		sink = tui.NewSink(prog)
	}

	p := newPipeline(c, store, sink)

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	globalPath, _ := config.GlobalPath()
	w, err := watch.New(watch.Options{
		File:        file,
		ConfigPaths: []string{globalPath, filepath.Join(cwd, config.ProjectFile)},
		SessionFile: store.Path(),
		Config:      c,
		LoadConfig: func() (config.Config, error) {
			next, err := config.Load(cwd)
			if err != nil {
				return next, err
			}
			next.RootDir = rootDir(next)
			return withStartFlags(cmd, next), nil
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", file, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return w.Run(gctx, stopOnStop{p: p, cancel: cancel}) })

	p.Post(pipeline.StartCommand{Doc: file, Lines: watch.CountLines(file)})
	if plain {
		fmt.Fprintf(cmd.OutOrStdout(), "Tracing %s. Save the file to re-run, Ctrl+C to stop.\n", file)
	}

	if prog == nil {
		return g.Wait()
	}
	_, err = prog.Run()
	cancel()
	werr := g.Wait()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return werr
}

func init() {
	startCmd.Flags().BoolVar(&startHot, "hot", false, "re-trace on every edit instead of on save")
	startCmd.Flags().IntVar(&startFrequency, "frequency", 0, "hot mode delay in milliseconds (implies --hot)")
	startCmd.Flags().BoolVar(&startPlain, "plain", false, "print updates instead of the full-screen view")
	rootCmd.AddCommand(startCmd)
}
