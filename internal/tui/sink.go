package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fakeyudi/wolf/internal/pipeline"
)

// Sink forwards pipeline output into a running program.
type Sink struct {
	send func(tea.Msg)
}

// NewSink returns a sink that sends to p.
func NewSink(p *tea.Program) *Sink {
	return &Sink{send: p.Send}
}

func (s *Sink) Show(v pipeline.View)  { s.send(ViewMsg(v)) }
func (s *Sink) Clear()                { s.send(ClearMsg{}) }
func (s *Sink) Notice(msg string)     { s.send(NoticeMsg(msg)) }
func (s *Sink) Diagnostic(msg string) { s.send(DiagnosticMsg(msg)) }

// RequestSave is a no-op: in the terminal the file is edited elsewhere and
// there is no unsaved buffer to flush.
func (s *Sink) RequestSave(string) {}
