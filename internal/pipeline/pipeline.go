// Package pipeline wires editor events, debouncing, tracer runs and
// annotation state together. All state changes happen on the goroutine
// running Run; timers and tracer processes only post events to it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fakeyudi/wolf/internal/annotate"
	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/session"
	"github.com/fakeyudi/wolf/internal/throttle"
	"github.com/fakeyudi/wolf/internal/tracer"
)

// ConfigChangedNotice is shown when a session is stopped because watched
// settings changed under it.
const ConfigChangedNotice = "Wolf detected a change to its configuration and was shut off. Please start Wolf again to continue."

// View is what a Sink draws for the traced document.
type View struct {
	SessionID   string
	Doc         string
	Generation  uint64
	LineCount   int
	Annotations []annotate.Annotation
	Stale       bool
	Gutter      bool
}

// Sink receives everything the pipeline wants shown to the user.
type Sink interface {
	Show(v View)
	Clear()
	Notice(msg string)
	Diagnostic(msg string)
	// RequestSave asks the editor to save doc (hot mode).
	RequestSave(doc string)
}

// TraceRunner runs one tracer process and reports on out.
type TraceRunner interface {
	Run(ctx context.Context, job tracer.Job, out chan<- tracer.Event) error
}

// Installer installs the tracer's missing runtime dependency.
type Installer interface {
	Install(ctx context.Context) error
}

// Options configures New.
type Options struct {
	Config    config.Config
	Tracker   *session.Tracker
	Throttler *throttle.Throttler
	Runner    TraceRunner
	Installer Installer
	Sink      Sink
	Results   *session.ResultStore // optional
	Logger    *slog.Logger
	// Rebuild returns the runner and installer for a reloaded config, so
	// changes to the interpreter, script or install command apply to the
	// next run. Nil keeps the ones given above.
	Rebuild func(config.Config) (TraceRunner, Installer)
	// ConfirmHot is asked before a hot-mode session starts unless the
	// warning is disabled. It runs on the pipeline goroutine. Nil approves.
	ConfirmHot func() bool
}

// Pipeline is the trace orchestrator for one editor.
type Pipeline struct {
	cfg       config.Config
	tracker   *session.Tracker
	throttle  *throttle.Throttler
	runner    TraceRunner
	installer Installer
	sink      Sink
	results   *session.ResultStore
	logger    *slog.Logger
	confirm   func() bool
	rebuild   func(config.Config) (TraceRunner, Installer)

	events       chan Event
	tracerEvents chan tracer.Event
	done         chan struct{}
	ctx          context.Context

	annotations annotate.Set
	resultGen   uint64 // generation of the last accepted result
	installedIn string // session that already attempted an install
}

// New returns a pipeline; call Run to start it.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		cfg:          opts.Config,
		tracker:      opts.Tracker,
		throttle:     opts.Throttler,
		runner:       opts.Runner,
		installer:    opts.Installer,
		sink:         opts.Sink,
		results:      opts.Results,
		logger:       opts.Logger,
		confirm:      opts.ConfirmHot,
		rebuild:      opts.Rebuild,
		events:       make(chan Event, 64),
		tracerEvents: make(chan tracer.Event, 64),
		done:         make(chan struct{}),
		ctx:          context.Background(),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracker == nil {
		p.tracker = session.NewTracker(nil, p.logger)
	}
	if p.throttle == nil {
		p.throttle = throttle.New(nil)
	}
	return p
}

// Tracker exposes the session state.
func (p *Pipeline) Tracker() *session.Tracker { return p.tracker }

// Post queues ev. It returns false once the pipeline has stopped.
func (p *Pipeline) Post(ev Event) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	}
}

// Run processes events until ctx is cancelled. The active session is
// stopped on the way out.
func (p *Pipeline) Run(ctx context.Context) error {
	p.ctx = ctx
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.stop()
			return nil
		case ev := <-p.events:
			p.handle(ev)
		case ev := <-p.tracerEvents:
			p.handleTracer(ev)
		}
	}
}

func (p *Pipeline) handle(ev Event) {
	switch ev := ev.(type) {
	case StartCommand:
		p.start(ev)
	case StopCommand:
		p.stop()
	case ActiveEditorChanged:
		p.tracker.UpdateLineCount(ev.Doc, ev.Lines)
		switch p.tracker.EditorRefocused(ev.Doc) {
		case session.RefocusResume:
			p.scheduleSave(false)
		case session.RefocusForceStop:
			p.sink.Notice(ConfigChangedNotice)
			p.stop()
		}
	case TextChanged:
		if !p.tracker.IsDocumentTraced(ev.Doc) {
			return
		}
		for _, e := range ev.Edits {
			p.annotations.Apply(e)
		}
		if ev.Lines > 0 {
			p.tracker.UpdateLineCount(ev.Doc, ev.Lines)
		}
		p.throttle.ScheduleOnEdit(func() { p.Post(editDue{}) })
		if p.tracker.Snapshot().Hot {
			p.sink.RequestSave(ev.Doc)
		}
	case Saved:
		if !p.tracker.IsDocumentTraced(ev.Doc) {
			return
		}
		if ev.Lines > 0 {
			p.tracker.UpdateLineCount(ev.Doc, ev.Lines)
		}
		p.scheduleSave(true)
	case ConfigChanged:
		if ev.Config != nil {
			p.reconfigure(*ev.Config)
		}
		if config.AffectsWatched(ev.Keys) {
			p.logger.Info("watched configuration changed", "keys", ev.Keys)
			p.tracker.MarkConfigDirty(true)
		}
	case saveDue:
		if ev.trace {
			p.trace()
		} else {
			p.render()
		}
	case editDue:
		p.render()
	case installDone:
		p.finishInstall(ev)
	case runFailed:
		if p.tracker.IsCurrent(ev.generation) {
			p.spawnFailed(ev.err.Error())
		}
	default:
		p.logger.Warn("unhandled pipeline event", "type", fmt.Sprintf("%T", ev))
	}
}

// reconfigure adopts c for everything after this event. A config from an
// editor or a reloaded file carries no install root, so the resolved one
// is kept.
func (p *Pipeline) reconfigure(c config.Config) {
	if c.RootDir == "" {
		c.RootDir = p.cfg.RootDir
	}
	p.cfg = c
	if p.rebuild != nil {
		p.runner, p.installer = p.rebuild(c)
	}
}

func (p *Pipeline) start(ev StartCommand) {
	if p.cfg.IsHot() && !p.cfg.WarningDisabled() && p.confirm != nil && !p.tracker.IsDocumentTraced(ev.Doc) {
		if !p.confirm() {
			p.logger.Info("hot mode start declined", "file", ev.Doc)
			return
		}
	}
	if _, started := p.tracker.Start(ev.Doc, ev.Lines, p.cfg.IsHot(), p.cfg.HotFrequency); started {
		p.annotations.Clear()
		p.sink.Clear()
		p.resultGen = 0
		p.installedIn = ""
	}
	p.scheduleSave(true)
}

func (p *Pipeline) stop() {
	p.throttle.CancelAll()
	if _, ok := p.tracker.Stop(); ok {
		p.annotations.Clear()
		p.sink.Clear()
	}
}

func (p *Pipeline) scheduleSave(trace bool) {
	s := p.tracker.Snapshot()
	p.throttle.ScheduleOnSave(func() { p.Post(saveDue{trace: trace}) }, s.Hot, s.HotFrequency)
}

// trace starts a fresh tracer run for the traced document.
func (p *Pipeline) trace() {
	s := p.tracker.Snapshot()
	if !s.Active() {
		p.logger.Debug("trace skipped: no active document")
		return
	}
	gen := p.tracker.NextGeneration()
	job := tracer.Job{Generation: gen, File: s.File, RootDir: p.cfg.RootDir}
	runner := p.runner
	go func() {
		err := runner.Run(p.ctx, job, p.tracerEvents)
		if err == nil || errors.Is(err, tracer.ErrNoTarget) || errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Warn("tracer run failed", "generation", gen, "error", err)
		p.Post(runFailed{generation: gen, err: err})
	}()
}

// spawnFailed reports msg and ends the session.
func (p *Pipeline) spawnFailed(msg string) {
	p.stop()
	p.sink.Diagnostic(msg)
}

func (p *Pipeline) render() {
	s := p.tracker.Snapshot()
	if !s.Active() || p.annotations.Empty() {
		return
	}
	p.sink.Show(View{
		SessionID:   s.ID,
		Doc:         s.File,
		Generation:  p.annotations.Generation(),
		LineCount:   s.LineCount,
		Annotations: p.annotations.Annotations(s.LineCount),
		Stale:       p.annotations.Stale(),
		Gutter:      p.cfg.GutterEnabled(),
	})
}

func (p *Pipeline) handleTracer(ev tracer.Event) {
	if !p.tracker.IsCurrent(ev.Generation) {
		p.logger.Debug("discarding event from superseded run", "kind", ev.Kind, "generation", ev.Generation)
		return
	}
	switch ev.Kind {
	case tracer.EventResult:
		s := p.tracker.Snapshot()
		p.annotations.Replace(ev.Result, s.LineCount)
		p.resultGen = ev.Generation
		p.render()
		p.storeResult(s, ev.Result)
	case tracer.EventDiagnostic:
		if ev.Err != nil {
			p.spawnFailed(ev.Message)
			return
		}
		p.sink.Diagnostic(ev.Message)
	case tracer.EventMissingDependency:
		p.recover()
	case tracer.EventExit:
		if p.resultGen != ev.Generation {
			p.logger.Debug("tracer finished without output", "generation", ev.Generation, "error", ev.Err)
		}
	}
}

// recover installs the missing dependency once per session, then retries.
func (p *Pipeline) recover() {
	s := p.tracker.Snapshot()
	if p.installer == nil {
		p.sink.Diagnostic("the tracer's runtime dependency is not installed")
		return
	}
	if p.installedIn == s.ID {
		p.sink.Diagnostic("the tracer's runtime dependency is still missing after installation")
		return
	}
	p.installedIn = s.ID
	p.sink.Notice("Installing the tracer's runtime dependency…")
	installer := p.installer
	go func() {
		err := installer.Install(p.ctx)
		p.Post(installDone{sessionID: s.ID, err: err})
	}()
}

func (p *Pipeline) finishInstall(ev installDone) {
	if ev.err != nil {
		p.sink.Diagnostic(ev.err.Error())
		return
	}
	if s := p.tracker.Snapshot(); !s.Active() || s.ID != ev.sessionID {
		return
	}
	p.logger.Info("dependency installed, retrying trace")
	p.trace()
}

func (p *Pipeline) storeResult(s session.Session, res *tracer.Result) {
	if p.results == nil {
		return
	}
	err := p.results.Put(&session.StoredResult{
		SessionID:  s.ID,
		File:       s.File,
		LineCount:  s.LineCount,
		CapturedAt: time.Now(),
		Result:     res,
	})
	if err != nil {
		p.logger.Warn("storing trace result", "error", err)
	}
}
