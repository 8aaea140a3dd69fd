package tracer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// ImportErrorMarker on the error stream means the tracer's runtime
// dependency is missing.
const ImportErrorMarker = "IMPORT_ERROR"

// DefaultScript is the tracer script location relative to the install root.
const DefaultScript = "scripts/wolf.py"

// maxChunk bounds a single output line; payloads for large files can be long.
const maxChunk = 64 << 20

// ErrNoTarget is returned by Run when there is no document to trace.
// Callers treat it as a no-op.
var ErrNoTarget = errors.New("no active document to trace")

// EventKind classifies what a running tracer reported.
type EventKind int

const (
	EventResult EventKind = iota
	EventDiagnostic
	EventMissingDependency
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventDiagnostic:
		return "diagnostic"
	case EventMissingDependency:
		return "missing-dependency"
	case EventExit:
		return "exit"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one observation from a tracer run, tagged with the generation
// the run was started under.
type Event struct {
	Kind       EventKind
	Generation uint64
	File       string
	Result     *Result // EventResult
	Message    string  // EventDiagnostic
	Err        error   // EventExit, spawn failures
}

// Job describes one tracer invocation.
type Job struct {
	Generation uint64
	File       string // absolute path of the traced file
	RootDir    string // install root the script path is resolved against
}

// CommandFunc builds the process for a job. Tests swap it to run a fixture.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Runner spawns one tracer process per Run call.
type Runner struct {
	Executable string // defaults to python3
	Script     string // relative to Job.RootDir, defaults to DefaultScript
	Command    CommandFunc
	Parser     *Parser
	Logger     *slog.Logger
}

// Args returns the command line for job.
func (r *Runner) Args(job Job) (string, []string) {
	exe := r.Executable
	if exe == "" {
		exe = "python3"
	}
	script := r.Script
	if script == "" {
		script = DefaultScript
	}
	if !filepath.IsAbs(script) {
		script = filepath.Join(job.RootDir, script)
	}
	return exe, []string{script, job.File}
}

// Run starts the tracer for job and streams its events to out until the
// process exits and both streams are drained. The final event is always
// EventExit unless the process could not be started, in which case the
// spawn error is sent as a diagnostic and returned.
func (r *Runner) Run(ctx context.Context, job Job, out chan<- Event) error {
	if job.File == "" {
		return ErrNoTarget
	}
	log := r.logger().With("generation", job.Generation, "file", job.File)

	name, args := r.Args(job)
	newCmd := r.Command
	if newCmd == nil {
		newCmd = exec.CommandContext
	}
	cmd := newCmd(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.spawnFailed(ctx, job, out, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.spawnFailed(ctx, job, out, err)
	}
	if err := cmd.Start(); err != nil {
		return r.spawnFailed(ctx, job, out, err)
	}
	log.Debug("tracer started", "pid", cmd.Process.Pid, "cmd", name, "args", args)

	var g errgroup.Group
	g.Go(func() error {
		return readChunks(stdout, func(chunk []byte) {
			res := r.parser().Parse(chunk)
			if res == nil {
				return
			}
			res.Generation = job.Generation
			send(ctx, out, Event{Kind: EventResult, Generation: job.Generation, File: job.File, Result: res})
		})
	})
	g.Go(func() error {
		missing := false
		return readChunks(stderr, func(chunk []byte) {
			if bytes.Contains(chunk, []byte(ImportErrorMarker)) {
				if !missing {
					missing = true
					send(ctx, out, Event{Kind: EventMissingDependency, Generation: job.Generation, File: job.File})
				}
				return
			}
			send(ctx, out, Event{Kind: EventDiagnostic, Generation: job.Generation, File: job.File, Message: string(chunk)})
		})
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()
	if readErr != nil {
		log.Warn("reading tracer output", "error", readErr)
	}
	if waitErr != nil {
		log.Debug("tracer exited", "error", waitErr)
	} else {
		log.Debug("tracer exited")
	}
	send(ctx, out, Event{Kind: EventExit, Generation: job.Generation, File: job.File, Err: waitErr})
	return nil
}

func (r *Runner) spawnFailed(ctx context.Context, job Job, out chan<- Event, err error) error {
	err = fmt.Errorf("starting tracer: %w", err)
	send(ctx, out, Event{Kind: EventDiagnostic, Generation: job.Generation, File: job.File, Message: err.Error(), Err: err})
	return err
}

func (r *Runner) parser() *Parser {
	if r.Parser == nil {
		return &Parser{Logger: r.Logger}
	}
	return r.Parser
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// readChunks hands every line of rd to fn, in order.
func readChunks(rd io.Reader, fn func([]byte)) error {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxChunk)
	for sc.Scan() {
		line := sc.Bytes()
		chunk := make([]byte, len(line))
		copy(chunk, line)
		fn(chunk)
	}
	if err := sc.Err(); err != nil {
		// keep the pipe drained so the child never blocks on a full buffer
		_, _ = io.Copy(io.Discard, rd)
		return err
	}
	return nil
}

func send(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
