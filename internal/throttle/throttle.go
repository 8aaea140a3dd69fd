// Package throttle coalesces bursts of editor notifications into a single
// deferred invocation per quiet window.
package throttle

import (
	"sync"
	"time"
)

const (
	// EditDelay is the quiet window for the edit path.
	EditDelay = 450 * time.Millisecond
	// SaveDelay is the quiet window for the save path outside hot mode.
	SaveDelay = 500 * time.Millisecond

	// MinHotFrequency and MaxHotFrequency bound the hot-mode save delay in milliseconds.
	MinHotFrequency = 100
	MaxHotFrequency = 10000
)

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

// Clock schedules deferred calls. The real clock is time.AfterFunc; tests
// substitute a manual one.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Clamp limits v to [lo, hi].
func Clamp(lo, hi, v int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SaveDelayFor returns the save-path delay for the given hot-mode settings.
func SaveDelayFor(hot bool, hotFrequencyMs int) time.Duration {
	if !hot {
		return SaveDelay
	}
	return time.Duration(Clamp(MinHotFrequency, MaxHotFrequency, hotFrequencyMs)) * time.Millisecond
}

// path is one independent debounce slot. token increases on every schedule
// and cancel so a timer whose callback is already racing cannot run after
// it was superseded.
type path struct {
	timer Timer
	token uint64
}

// Throttler owns the edit and save debounce paths.
type Throttler struct {
	clock Clock

	mu   sync.Mutex
	edit path
	save path
}

// New returns a Throttler driven by clock. A nil clock means the wall clock.
func New(clock Clock) *Throttler {
	if clock == nil {
		clock = realClock{}
	}
	return &Throttler{clock: clock}
}

// ScheduleOnSave replaces any pending save-path call with fn, due after
// SaveDelayFor(hot, hotFrequencyMs).
func (t *Throttler) ScheduleOnSave(fn func(), hot bool, hotFrequencyMs int) {
	t.schedule(&t.save, fn, SaveDelayFor(hot, hotFrequencyMs))
}

// ScheduleOnEdit replaces any pending edit-path call with fn, due after EditDelay.
func (t *Throttler) ScheduleOnEdit(fn func()) {
	t.schedule(&t.edit, fn, EditDelay)
}

// CancelAll drops both pending calls. Safe to call with nothing pending.
func (t *Throttler) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(&t.edit)
	t.cancelLocked(&t.save)
}

// Pending reports how many paths currently hold a scheduled call.
func (t *Throttler) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	if t.edit.timer != nil {
		n++
	}
	if t.save.timer != nil {
		n++
	}
	return n
}

func (t *Throttler) schedule(p *path, fn func(), delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(p)
	token := p.token
	p.timer = t.clock.AfterFunc(delay, func() {
		t.mu.Lock()
		if p.token != token {
			t.mu.Unlock()
			return
		}
		p.timer = nil
		t.mu.Unlock()
		fn()
	})
}

func (t *Throttler) cancelLocked(p *path) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.token++
}
