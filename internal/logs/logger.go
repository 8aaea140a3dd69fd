// Package logs builds the process logger: human-readable records on the
// terminal and JSON records in a rotated log file.
package logs

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level   string    // debug | info | warn | error; defaults to warn
	File    string    // rotated JSON log; empty disables file logging
	Console io.Writer // defaults to os.Stderr; nil-safe
}

// ParseLevel maps a config string to a slog level. Unknown values mean warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// DefaultFile returns $XDG_STATE_HOME/wolf/wolf.log or ~/.local/state/wolf/wolf.log.
func DefaultFile() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "wolf", "wolf.log")
}

// New returns a logger and a close func that flushes the log file.
func New(opts Options) (*slog.Logger, func() error) {
	level := ParseLevel(opts.Level)
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
	}

	closeFn := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err == nil {
			rotator := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    5, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
				Compress:   true,
			}
			// the file keeps debug records even when the terminal is quieter
			handlers = append(handlers, slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelDebug}))
			closeFn = rotator.Close
		}
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeFn
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
