package session

import (
	"fmt"
	"time"
)

// State is the lifecycle stage of a trace session.
type State string

const (
	StateInactive State = "inactive"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Session binds one document to one tracing lifecycle.
type Session struct {
	ID           string    `json:"id"`
	File         string    `json:"file"`
	LineCount    int       `json:"line_count"`
	State        State     `json:"state"`
	Hot          bool      `json:"hot"`
	HotFrequency int       `json:"hot_frequency"` // milliseconds
	ConfigDirty  bool      `json:"config_dirty"`
	Generation   uint64    `json:"generation"`
	StartTime    time.Time `json:"start_time"`
	// PID is the process that owns the session; other invocations use it
	// to tell a live session from a stale file.
	PID int `json:"pid,omitempty"`
}

// Active reports whether the session is currently tracing.
func (s Session) Active() bool {
	return s.State == StateActive
}

func (s *Session) String() string {
	if s == nil {
		return "<no session>"
	}
	return fmt.Sprintf("%s %s (%s)", s.ID, s.File, s.State)
}
