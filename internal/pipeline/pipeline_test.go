package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fakeyudi/wolf/internal/annotate"
	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/logs"
	"github.com/fakeyudi/wolf/internal/session"
	"github.com/fakeyudi/wolf/internal/throttle"
	"github.com/fakeyudi/wolf/internal/tracer"
)

// --- test doubles ---

type manualClock struct {
	mu      sync.Mutex
	now     time.Duration
	pending []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	due     time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (m *manualClock) AfterFunc(d time.Duration, f func()) throttle.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{clock: m, due: m.now + d, f: f}
	m.pending = append(m.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var due, rest []*manualTimer
	for _, t := range m.pending {
		switch {
		case t.stopped:
		case t.due <= m.now:
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	m.pending = rest
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].due < due[j].due })
	for _, t := range due {
		t.f()
	}
}

type recordSink struct {
	mu          sync.Mutex
	shows       []View
	clears      int
	notices     []string
	diagnostics []string
	saves       []string
}

func (s *recordSink) Show(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shows = append(s.shows, v)
}

func (s *recordSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

func (s *recordSink) Notice(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, msg)
}

func (s *recordSink) Diagnostic(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = append(s.diagnostics, msg)
}

func (s *recordSink) RequestSave(doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, doc)
}

// fakeRunner answers every job with whatever respond returns.
type fakeRunner struct {
	mu      sync.Mutex
	jobs    []tracer.Job
	respond func(job tracer.Job) []tracer.Event
	err     error // returned after the events
}

func (f *fakeRunner) Run(ctx context.Context, job tracer.Job, out chan<- tracer.Event) error {
	if job.File == "" {
		return tracer.ErrNoTarget
	}
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	for _, ev := range f.respond(job) {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeRunner) lastJob(t *testing.T) tracer.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		t.Fatal("no tracer job was started")
	}
	return f.jobs[len(f.jobs)-1]
}

type countingInstaller struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingInstaller) Install(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

// resultOn answers a job with one result annotating lines, then exits.
func resultOn(lines ...int) func(tracer.Job) []tracer.Event {
	return func(job tracer.Job) []tracer.Event {
		res := &tracer.Result{Generation: job.Generation, Lines: map[int][]tracer.Entry{}}
		for _, l := range lines {
			res.Lines[l] = []tracer.Entry{{Value: json.RawMessage(`{"x":1}`)}}
		}
		return []tracer.Event{
			{Kind: tracer.EventResult, Generation: job.Generation, File: job.File, Result: res},
			{Kind: tracer.EventExit, Generation: job.Generation, File: job.File},
		}
	}
}

// --- harness ---

type harness struct {
	p      *Pipeline
	clock  *manualClock
	sink   *recordSink
	runner *fakeRunner
	doc    string
}

func newHarness(t *testing.T, opts Options, respond func(tracer.Job) []tracer.Event) *harness {
	t.Helper()
	h := &harness{
		clock:  &manualClock{},
		sink:   &recordSink{},
		runner: &fakeRunner{respond: respond},
		doc:    filepath.Join(t.TempDir(), "main.py"),
	}
	opts.Throttler = throttle.New(h.clock)
	opts.Runner = h.runner
	opts.Sink = h.sink
	opts.Logger = logs.Discard()
	opts.Tracker = session.NewTracker(nil, logs.Discard())
	if opts.Config.HotFrequency == 0 {
		opts.Config = config.Merge(nil, &opts.Config)
	}
	h.p = New(opts)
	return h
}

// step handles every event queued so far.
func (h *harness) step() {
	for {
		select {
		case ev := <-h.p.events:
			h.p.handle(ev)
		default:
			return
		}
	}
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.step()
}

// nextTracer waits for one tracer event and handles it.
func (h *harness) nextTracer(t *testing.T) tracer.Event {
	t.Helper()
	select {
	case ev := <-h.p.tracerEvents:
		h.p.handleTracer(ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a tracer event")
	}
	return tracer.Event{}
}

// nextEvent waits for one posted event and handles it.
func (h *harness) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.p.events:
		h.p.handle(ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a pipeline event")
	}
	return nil
}

// finishRun handles tracer events until the run's exit event.
func (h *harness) finishRun(t *testing.T) {
	t.Helper()
	for h.nextTracer(t).Kind != tracer.EventExit {
	}
}

func (h *harness) start(t *testing.T, lines int) {
	t.Helper()
	h.p.handle(StartCommand{Doc: h.doc, Lines: lines})
	h.advance(throttle.SaveDelay)
	h.finishRun(t)
}

func lineNumbers(anns []annotate.Annotation) []int {
	out := make([]int, len(anns))
	for i, a := range anns {
		out[i] = a.Line
	}
	return out
}

// --- tests ---

func TestStartTracesAfterSaveDelay(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1, 3))

	h.p.handle(StartCommand{Doc: h.doc, Lines: 3})
	if !h.p.Tracker().IsDocumentTraced(h.doc) {
		t.Fatal("session not active after start")
	}
	startGen := h.p.Tracker().Snapshot().Generation

	h.advance(throttle.SaveDelay - time.Millisecond)
	if h.p.Tracker().Snapshot().Generation != startGen {
		t.Fatal("trace started before the save delay elapsed")
	}
	h.advance(time.Millisecond)
	h.finishRun(t)

	if len(h.sink.shows) != 1 {
		t.Fatalf("shows = %d, want 1", len(h.sink.shows))
	}
	v := h.sink.shows[0]
	if v.Doc != h.doc {
		t.Errorf("Doc = %q, want %q", v.Doc, h.doc)
	}
	if got := lineNumbers(v.Annotations); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("annotated lines = %v, want [1 3]", got)
	}
	if !v.Gutter {
		t.Error("gutter should default to on")
	}
}

func TestStartSameDocumentDoesNotRestart(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))
	h.start(t, 2)
	id := h.p.Tracker().Snapshot().ID

	h.p.handle(StartCommand{Doc: h.doc, Lines: 2})
	if got := h.p.Tracker().Snapshot().ID; got != id {
		t.Errorf("session restarted: %s -> %s", id, got)
	}
	if h.p.throttle.Pending() != 1 {
		t.Error("a repeated start should still schedule a trace")
	}
}

func TestSupersededRunIsDiscarded(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))

	h.p.handle(StartCommand{Doc: h.doc, Lines: 5})
	h.advance(throttle.SaveDelay) // run A
	h.p.handle(Saved{Doc: h.doc, Lines: 5})
	h.advance(throttle.SaveDelay) // run B
	current := h.p.Tracker().Snapshot().Generation

	exits := 0
	for exits < 2 {
		if h.nextTracer(t).Kind == tracer.EventExit {
			exits++
		}
	}

	if len(h.sink.shows) != 1 {
		t.Fatalf("shows = %d, want 1 (only the latest run)", len(h.sink.shows))
	}
	if g := h.sink.shows[0].Generation; g != current {
		t.Errorf("shown generation = %d, want %d", g, current)
	}
}

func TestStopDiscardsInFlightRun(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))

	h.p.handle(StartCommand{Doc: h.doc, Lines: 5})
	h.advance(throttle.SaveDelay)
	h.p.handle(StopCommand{})
	h.finishRun(t)

	if len(h.sink.shows) != 0 {
		t.Errorf("result from a stopped session was shown: %+v", h.sink.shows)
	}
	if h.p.Tracker().Snapshot().Active() {
		t.Error("session still active after stop")
	}
	if h.p.throttle.Pending() != 0 {
		t.Error("timers still pending after stop")
	}
	if h.sink.clears == 0 {
		t.Error("stop should clear the display")
	}
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))
	h.p.handle(StopCommand{})
	if h.sink.clears != 0 {
		t.Errorf("clears = %d, want 0", h.sink.clears)
	}
}

func TestEditsShiftImmediatelyAndRenderAfterDelay(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(2, 5))
	h.start(t, 10)
	if len(h.sink.shows) != 1 {
		t.Fatalf("shows = %d, want 1", len(h.sink.shows))
	}

	h.p.handle(TextChanged{Doc: h.doc, Lines: 11, Edits: []annotate.Edit{{Line: 1, Added: 1}}})
	h.advance(throttle.EditDelay - time.Millisecond)
	if len(h.sink.shows) != 1 {
		t.Fatal("edit rendered before the edit delay elapsed")
	}
	h.advance(time.Millisecond)
	if len(h.sink.shows) != 2 {
		t.Fatalf("shows = %d, want 2", len(h.sink.shows))
	}
	if got := lineNumbers(h.sink.shows[1].Annotations); len(got) != 2 || got[0] != 3 || got[1] != 6 {
		t.Errorf("annotated lines after edit = %v, want [3 6]", got)
	}
	if len(h.sink.saves) != 0 {
		t.Error("save requested outside hot mode")
	}
}

func TestEditsToOtherDocumentsIgnored(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))
	h.start(t, 3)

	h.p.handle(TextChanged{Doc: filepath.Join(t.TempDir(), "other.py"), Lines: 4, Edits: []annotate.Edit{{Line: 1, Added: 1}}})
	h.p.handle(Saved{Doc: filepath.Join(t.TempDir(), "other.py"), Lines: 4})
	if h.p.throttle.Pending() != 0 {
		t.Error("events for an untraced document scheduled work")
	}
}

func TestHotModeRequestsSaveAndClampsFrequency(t *testing.T) {
	cfg := config.Config{Hot: config.Bool(true), HotFrequency: 50}
	h := newHarness(t, Options{Config: cfg}, resultOn(1))

	h.p.handle(StartCommand{Doc: h.doc, Lines: 3})
	h.advance(throttle.MinHotFrequency * time.Millisecond)
	h.finishRun(t)

	h.p.handle(TextChanged{Doc: h.doc, Lines: 3})
	if len(h.sink.saves) != 1 || h.sink.saves[0] != h.doc {
		t.Errorf("saves = %v, want [%s]", h.sink.saves, h.doc)
	}
}

func TestHotModeConfirmation(t *testing.T) {
	asked := 0
	cfg := config.Config{Hot: config.Bool(true), HotFrequency: 500}
	h := newHarness(t, Options{Config: cfg, ConfirmHot: func() bool { asked++; return false }}, resultOn(1))

	h.p.handle(StartCommand{Doc: h.doc, Lines: 3})
	if asked != 1 {
		t.Fatalf("confirmation asked %d times, want 1", asked)
	}
	if h.p.Tracker().Snapshot().Active() || h.p.throttle.Pending() != 0 {
		t.Error("declined hot start still started a session")
	}

	cfg.HotModeWarningDisabled = config.Bool(true)
	h.p.handle(ConfigChanged{Config: &cfg})
	h.p.handle(StartCommand{Doc: h.doc, Lines: 3})
	if asked != 1 {
		t.Error("confirmation asked although the warning is disabled")
	}
	if !h.p.Tracker().Snapshot().Active() {
		t.Error("session not started")
	}
}

func TestWatchedConfigChangeStopsOnRefocus(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))
	h.start(t, 3)

	h.p.handle(ConfigChanged{Keys: []string{config.KeyHotFrequency}})
	h.p.handle(ActiveEditorChanged{Doc: h.doc, Lines: 3})
	if h.p.Tracker().Snapshot().Active() {
		t.Fatal("session survived a refocus with dirty configuration")
	}
	if len(h.sink.notices) != 1 || h.sink.notices[0] != ConfigChangedNotice {
		t.Errorf("notices = %v", h.sink.notices)
	}

	h.p.handle(ActiveEditorChanged{Doc: h.doc, Lines: 3})
	if len(h.sink.notices) != 1 {
		t.Error("notice repeated on a second refocus")
	}
}

func TestUnwatchedConfigChangeResumes(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))
	h.start(t, 3)
	shows := len(h.sink.shows)

	h.p.handle(ConfigChanged{Keys: []string{"wolf.python"}})
	h.p.handle(ActiveEditorChanged{Doc: h.doc, Lines: 3})
	if !h.p.Tracker().Snapshot().Active() {
		t.Fatal("unwatched change stopped the session")
	}
	gen := h.p.Tracker().Snapshot().Generation
	h.advance(throttle.SaveDelay)
	if h.p.Tracker().Snapshot().Generation != gen {
		t.Error("refocus should re-render without tracing")
	}
	if len(h.sink.shows) != shows+1 {
		t.Errorf("shows = %d, want %d", len(h.sink.shows), shows+1)
	}
}

func TestMissingDependencyInstallsOncePerSession(t *testing.T) {
	missing := func(job tracer.Job) []tracer.Event {
		return []tracer.Event{
			{Kind: tracer.EventMissingDependency, Generation: job.Generation, File: job.File},
			{Kind: tracer.EventExit, Generation: job.Generation, File: job.File},
		}
	}
	inst := &countingInstaller{}
	h := newHarness(t, Options{Installer: inst}, missing)

	h.p.handle(StartCommand{Doc: h.doc, Lines: 3})
	h.advance(throttle.SaveDelay)
	h.finishRun(t)
	if len(h.sink.notices) != 1 {
		t.Fatalf("notices = %v, want one install notice", h.sink.notices)
	}

	if _, ok := h.nextEvent(t).(installDone); !ok {
		t.Fatal("expected the install to finish")
	}
	h.finishRun(t) // retried run reports the dependency missing again

	if inst.calls != 1 {
		t.Errorf("install attempts = %d, want 1", inst.calls)
	}
	if len(h.sink.diagnostics) != 1 {
		t.Errorf("diagnostics = %v, want one", h.sink.diagnostics)
	}
	if len(h.runner.jobs) != 2 {
		t.Errorf("runs = %d, want 2", len(h.runner.jobs))
	}
}

func TestFailedInstallIsReported(t *testing.T) {
	missing := func(job tracer.Job) []tracer.Event {
		return []tracer.Event{{Kind: tracer.EventMissingDependency, Generation: job.Generation}}
	}
	inst := &countingInstaller{err: context.DeadlineExceeded}
	h := newHarness(t, Options{Installer: inst}, missing)

	h.p.handle(StartCommand{Doc: h.doc, Lines: 3})
	h.advance(throttle.SaveDelay)
	h.nextTracer(t)
	h.nextEvent(t)

	if len(h.sink.diagnostics) != 1 {
		t.Fatalf("diagnostics = %v", h.sink.diagnostics)
	}
}

func TestDiagnosticsFromCurrentRunAreShown(t *testing.T) {
	diag := func(job tracer.Job) []tracer.Event {
		return []tracer.Event{
			{Kind: tracer.EventDiagnostic, Generation: job.Generation, Message: "Traceback (most recent call last):"},
			{Kind: tracer.EventExit, Generation: job.Generation},
		}
	}
	h := newHarness(t, Options{}, diag)
	h.start(t, 3)

	if len(h.sink.diagnostics) != 1 || h.sink.diagnostics[0] != "Traceback (most recent call last):" {
		t.Errorf("diagnostics = %v", h.sink.diagnostics)
	}
	if len(h.sink.shows) != 0 {
		t.Error("nothing should be shown for a run without results")
	}
}

func TestResultsArePersisted(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	store, err := session.NewResultStore()
	if err != nil {
		t.Fatalf("NewResultStore: %v", err)
	}
	h := newHarness(t, Options{Results: store}, resultOn(2))
	h.start(t, 4)

	got, err := store.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.File != h.doc || len(got.Result.Lines[2]) != 1 {
		t.Errorf("stored result = %+v", got)
	}
}

func TestRunStopsSessionOnCancel(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Run(ctx) }()

	h.p.Post(StartCommand{Doc: h.doc, Lines: 1})
	deadline := time.Now().Add(2 * time.Second)
	for !h.p.Tracker().IsDocumentTraced(h.doc) {
		if time.Now().After(deadline) {
			t.Fatal("session never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.p.Tracker().Snapshot().Active() {
		t.Error("session left active after shutdown")
	}
	if h.p.Post(StopCommand{}) {
		t.Error("Post accepted an event after shutdown")
	}
}

func TestCommandEvent(t *testing.T) {
	tests := []struct {
		name string
		want Event
		ok   bool
	}{
		{CommandStart, StartCommand{Doc: "a.py", Lines: 2}, true},
		{CommandStartTouchBar, StartCommand{Doc: "a.py", Lines: 2}, true},
		{CommandStop, StopCommand{}, true},
		{CommandStopTouchBar, StopCommand{}, true},
		{"wolf.unknown", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CommandEvent(tt.name, "a.py", 2)
			if ok != tt.ok || got != tt.want {
				t.Errorf("CommandEvent(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestConfigChangeKeepsInstallRoot(t *testing.T) {
	h := newHarness(t, Options{Config: config.Merge(nil, &config.Config{RootDir: "/opt/wolf"})}, resultOn(1))
	h.start(t, 3)
	if got := h.runner.lastJob(t).RootDir; got != "/opt/wolf" {
		t.Fatalf("RootDir before change = %q", got)
	}

	// an editor or reloaded file config never carries the install root
	reloaded := config.Merge(nil, &config.Config{LogLevel: "debug"})
	h.p.handle(ConfigChanged{Keys: []string{"wolf.logLevel"}, Config: &reloaded})
	h.p.handle(Saved{Doc: h.doc, Lines: 3})
	h.advance(throttle.SaveDelay)
	h.finishRun(t)

	if got := h.runner.lastJob(t).RootDir; got != "/opt/wolf" {
		t.Errorf("RootDir after unwatched change = %q, want /opt/wolf", got)
	}
}

func TestConfigChangeRebuildsRunner(t *testing.T) {
	next := &fakeRunner{respond: resultOn(2)}
	var rebuiltWith config.Config
	h := newHarness(t, Options{
		Rebuild: func(c config.Config) (TraceRunner, Installer) {
			rebuiltWith = c
			return next, &countingInstaller{}
		},
	}, resultOn(1))
	h.start(t, 3)

	reloaded := config.Merge(nil, &config.Config{Python: "/venv/bin/python"})
	h.p.handle(ConfigChanged{Keys: []string{"wolf.python"}, Config: &reloaded})
	if rebuiltWith.Python != "/venv/bin/python" {
		t.Fatalf("Rebuild got Python %q", rebuiltWith.Python)
	}

	h.p.handle(Saved{Doc: h.doc, Lines: 3})
	h.advance(throttle.SaveDelay)
	h.finishRun(t)

	if len(h.runner.jobs) != 1 {
		t.Errorf("old runner ran %d jobs, want 1", len(h.runner.jobs))
	}
	if next.lastJob(t).File != h.doc {
		t.Error("rebuilt runner did not trace the document")
	}
}

func TestSpawnFailureEndsSession(t *testing.T) {
	h := newHarness(t, Options{}, func(job tracer.Job) []tracer.Event {
		err := errors.New("starting tracer: exec: \"python3\": executable file not found in $PATH")
		return []tracer.Event{{Kind: tracer.EventDiagnostic, Generation: job.Generation, File: job.File, Message: err.Error(), Err: err}}
	})
	h.p.handle(StartCommand{Doc: h.doc, Lines: 3})
	h.advance(throttle.SaveDelay)
	h.nextTracer(t)

	if h.p.Tracker().Snapshot().Active() {
		t.Error("session still active after the tracer failed to start")
	}
	if len(h.sink.diagnostics) != 1 || !strings.Contains(h.sink.diagnostics[0], "executable file not found") {
		t.Errorf("diagnostics = %q", h.sink.diagnostics)
	}

	// later saves no longer spawn anything
	h.p.handle(Saved{Doc: h.doc, Lines: 3})
	h.advance(throttle.SaveDelay)
	if n := len(h.runner.jobs); n != 1 {
		t.Errorf("runner started %d times, want 1", n)
	}
}

func TestRunErrorEndsSession(t *testing.T) {
	h := newHarness(t, Options{}, func(tracer.Job) []tracer.Event { return nil })
	h.runner.err = errors.New("starting tracer: permission denied")
	h.p.handle(StartCommand{Doc: h.doc, Lines: 3})
	h.advance(throttle.SaveDelay)
	h.nextEvent(t)

	if h.p.Tracker().Snapshot().Active() {
		t.Error("session still active after the run failed")
	}
	if len(h.sink.diagnostics) != 1 || h.sink.diagnostics[0] != "starting tracer: permission denied" {
		t.Errorf("diagnostics = %q", h.sink.diagnostics)
	}
}

func TestPostRejectedAfterShutdown(t *testing.T) {
	h := newHarness(t, Options{}, resultOn(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// the event buffer has room; shutdown still wins every time
	for i := 0; i < 200; i++ {
		if h.p.Post(StopCommand{}) {
			t.Fatalf("Post %d accepted an event after shutdown", i)
		}
	}
}
