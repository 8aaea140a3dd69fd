package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/logs"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger is the process logger, populated in PersistentPreRunE.
var logger = logs.Discard()

// closeLog flushes the log file; set together with logger.
var closeLog = func() error { return nil }

var rootCmd = &cobra.Command{
	Use:          "wolf",
	Short:        "Trace a Python file line by line and show the values next to the code",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// First run: no global config yet. Only ask on an interactive terminal.
		if cmd.Name() != "setup" && !globalConfigExists() && term.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to wolf! Looks like this is your first time.")
			if err := runSetup(cmd, true); err != nil {
				return err
			}
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfg, err = config.Load(cwd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logFile := cfg.LogFile
		if logFile == "" {
			logFile = logs.DefaultFile()
		}
		logger, closeLog = logs.New(logs.Options{
			Level:   cfg.LogLevel,
			File:    logFile,
			Console: cmd.ErrOrStderr(),
		})
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	err := rootCmd.Execute()
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

func globalConfigExists() bool {
	path, err := config.GlobalPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
