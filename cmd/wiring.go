package cmd

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/deps"
	"github.com/fakeyudi/wolf/internal/pipeline"
	"github.com/fakeyudi/wolf/internal/session"
	"github.com/fakeyudi/wolf/internal/throttle"
	"github.com/fakeyudi/wolf/internal/tracer"
)

// rootDir is where the tracer script is looked up: the configured root, or
// the directory holding the wolf binary.
func rootDir(c config.Config) string {
	if c.RootDir != "" {
		return c.RootDir
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func newRunner(c config.Config) *tracer.Runner {
	return &tracer.Runner{
		Executable: c.Python,
		Script:     c.Script,
		Parser:     &tracer.Parser{Logger: logger},
		Logger:     logger,
	}
}

func newInstaller(c config.Config) *deps.Installer {
	return &deps.Installer{Python: c.Python, Command: c.InstallCommand}
}

// newPipeline wires the orchestrator for c, persisting session state in store.
func newPipeline(c config.Config, store session.SessionStore, sink pipeline.Sink) *pipeline.Pipeline {
	c.RootDir = rootDir(c)
	results, err := session.NewResultStore()
	if err != nil {
		logger.Warn("result store unavailable", "error", err)
	}
	return pipeline.New(pipeline.Options{
		Config:    c,
		Tracker:   session.NewTracker(store, logger),
		Throttler: throttle.New(throttle.RealClock()),
		Runner:    newRunner(c),
		Installer: newInstaller(c),
		Sink:      sink,
		Results:   results,
		Logger:    logger,
		Rebuild: func(next config.Config) (pipeline.TraceRunner, pipeline.Installer) {
			return newRunner(next), newInstaller(next)
		},
	})
}

// processAlive reports whether the process that owns a session still runs.
// Unknown owners count as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
