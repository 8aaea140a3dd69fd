package pipeline

import (
	"github.com/fakeyudi/wolf/internal/annotate"
	"github.com/fakeyudi/wolf/internal/config"
)

// Event is anything the pipeline reacts to.
type Event interface {
	event()
}

// StartCommand asks to trace Doc.
type StartCommand struct {
	Doc   string
	Lines int
}

// StopCommand ends the current session.
type StopCommand struct{}

// ActiveEditorChanged reports that the editor focused Doc.
type ActiveEditorChanged struct {
	Doc   string
	Lines int
}

// TextChanged reports unsaved edits to Doc.
type TextChanged struct {
	Doc   string
	Lines int
	Edits []annotate.Edit
}

// Saved reports that Doc was written to disk.
type Saved struct {
	Doc   string
	Lines int
}

// ConfigChanged reports a configuration change. Config, when set, is the
// new effective configuration.
type ConfigChanged struct {
	Keys   []string
	Config *config.Config
}

// internal events

type saveDue struct{ trace bool }

type editDue struct{}

type installDone struct {
	sessionID string
	err       error
}

// runFailed is a run the runner could not start.
type runFailed struct {
	generation uint64
	err        error
}

func (StartCommand) event()        {}
func (StopCommand) event()         {}
func (ActiveEditorChanged) event() {}
func (TextChanged) event()         {}
func (Saved) event()               {}
func (ConfigChanged) event()       {}
func (runFailed) event()           {}
func (saveDue) event()             {}
func (editDue) event()             {}
func (installDone) event()         {}

// Command names accepted from an editor. The touch-bar variants are the
// same commands bound to a second input surface.
const (
	CommandStart         = "wolf.barkAtCurrentFile"
	CommandStartTouchBar = "wolf.touchBarStart"
	CommandStop          = "wolf.stopBarking"
	CommandStopTouchBar  = "wolf.touchBarStop"
)

// CommandEvent maps an editor command name to a pipeline event.
func CommandEvent(name, doc string, lines int) (Event, bool) {
	switch name {
	case CommandStart, CommandStartTouchBar:
		return StartCommand{Doc: doc, Lines: lines}, true
	case CommandStop, CommandStopTouchBar:
		return StopCommand{}, true
	}
	return nil, false
}
