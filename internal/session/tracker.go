package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Refocus is the decision taken when the editor focuses a document again.
type Refocus int

const (
	// RefocusIgnore: the document is not under trace.
	RefocusIgnore Refocus = iota
	// RefocusResume: the document is traced and the configuration is unchanged.
	RefocusResume
	// RefocusForceStop: configuration changed mid-session; the session was
	// stopped and the caller must tell the user.
	RefocusForceStop
)

// Tracker is the single record of which document is under trace. It is
// safe for concurrent use, though the pipeline drives it from one goroutine.
type Tracker struct {
	mu         sync.Mutex
	cur        Session
	generation uint64
	store      SessionStore
	logger     *slog.Logger
}

// NewTracker returns an inactive tracker. store may be nil, in which case
// nothing is persisted.
func NewTracker(store SessionStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cur:    Session{State: StateInactive},
		store:  store,
		logger: logger,
	}
}

// Start begins tracing doc. It returns false without touching the session
// when doc is already traced.
func (t *Tracker) Start(doc string, lineCount int, hot bool, hotFrequency int) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc = canonical(doc)
	if t.cur.Active() && t.cur.File == doc {
		return t.cur, false
	}
	if t.cur.Active() {
		t.stopLocked()
	}

	t.cur = Session{
		ID:           uuid.New().String(),
		File:         doc,
		LineCount:    lineCount,
		State:        StateStarting,
		Hot:          hot,
		HotFrequency: hotFrequency,
		StartTime:    time.Now(),
		PID:          os.Getpid(),
	}
	t.persistLocked()
	t.cur.State = StateActive
	t.cur.Generation = t.bumpLocked()
	t.persistLocked()
	t.logger.Info("session started", "id", t.cur.ID, "file", doc, "hot", hot)
	return t.cur, true
}

// Stop ends the active session and returns it. Results from runs started
// before Stop are no longer current afterwards.
func (t *Tracker) Stop() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cur.Active() {
		return Session{}, false
	}
	return t.stopLocked(), true
}

func (t *Tracker) stopLocked() Session {
	stopped := t.cur
	t.cur.State = StateStopping
	t.persistLocked()
	t.bumpLocked()
	t.cur = Session{State: StateInactive}
	if t.store != nil {
		if err := t.store.Delete(); err != nil {
			t.logger.Warn("deleting session state", "error", err)
		}
	}
	t.logger.Info("session stopped", "id", stopped.ID, "file", stopped.File)
	stopped.State = StateInactive
	return stopped
}

// IsDocumentTraced reports whether doc is the document under trace.
func (t *Tracker) IsDocumentTraced(doc string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur.Active() && t.cur.File == canonical(doc)
}

// UpdateLineCount records the line count of doc if it is the traced document.
func (t *Tracker) UpdateLineCount(doc string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cur.Active() || t.cur.File != canonical(doc) || t.cur.LineCount == n {
		return
	}
	t.cur.LineCount = n
	t.persistLocked()
}

// MarkConfigDirty records whether watched configuration changed since the
// session started. It has no effect without an active session.
func (t *Tracker) MarkConfigDirty(dirty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cur.Active() || t.cur.ConfigDirty == dirty {
		return
	}
	t.cur.ConfigDirty = dirty
	t.persistLocked()
}

// EditorRefocused handles the editor focusing doc. A dirty session is
// stopped here, and the dirty flag goes with it.
func (t *Tracker) EditorRefocused(doc string) Refocus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cur.Active() || t.cur.File != canonical(doc) {
		return RefocusIgnore
	}
	if !t.cur.ConfigDirty {
		return RefocusResume
	}
	t.cur.ConfigDirty = false
	t.stopLocked()
	return RefocusForceStop
}

// NextGeneration starts a new run generation for the active session.
func (t *Tracker) NextGeneration() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	g := t.bumpLocked()
	if t.cur.Active() {
		t.cur.Generation = g
	}
	return g
}

// IsCurrent reports whether gen belongs to the latest run of the active session.
func (t *Tracker) IsCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur.Active() && t.cur.Generation == gen
}

// Snapshot returns a copy of the current session.
func (t *Tracker) Snapshot() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

func (t *Tracker) bumpLocked() uint64 {
	t.generation++
	return t.generation
}

func (t *Tracker) persistLocked() {
	if t.store == nil {
		return
	}
	s := t.cur
	if err := t.store.Save(&s); err != nil {
		t.logger.Warn("persisting session state", "error", err)
	}
}

func canonical(doc string) string {
	if doc == "" {
		return ""
	}
	if abs, err := filepath.Abs(doc); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(doc)
}
