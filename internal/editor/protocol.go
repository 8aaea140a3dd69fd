// Package editor speaks the JSON-lines bridge protocol used by editor
// plugins: one JSON object per line on stdin for editor events, one per
// line on stdout for what to draw.
package editor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fakeyudi/wolf/internal/annotate"
	"github.com/fakeyudi/wolf/internal/config"
	"github.com/fakeyudi/wolf/internal/pipeline"
)

// Incoming message types.
const (
	TypeCommand             = "command"
	TypeActiveEditorChanged = "activeEditorChanged"
	TypeTextChanged         = "textChanged"
	TypeSaved               = "saved"
	TypeConfigChanged       = "configChanged"
)

// Outgoing message types.
const (
	TypeResult     = "result"
	TypeClear      = "clear"
	TypeNotice     = "notice"
	TypeDiagnostic = "diagnostic"
	TypeSave       = "save"
)

// maxLine bounds one incoming message. textChanged carries no text, so
// messages stay small.
const maxLine = 1 << 20

// ErrUnknownMessage is wrapped by DecodeError for unrecognized types or commands.
var ErrUnknownMessage = errors.New("unknown message")

// Message is one line of the protocol in either direction.
type Message struct {
	Type        string                `json:"type"`
	Command     string                `json:"command,omitempty"`
	Document    string                `json:"document,omitempty"`
	LineCount   int                   `json:"lineCount,omitempty"`
	Edits       []annotate.Edit       `json:"edits,omitempty"`
	Keys        []string              `json:"keys,omitempty"`
	Config      *config.Config        `json:"config,omitempty"`
	Generation  uint64                `json:"generation,omitempty"`
	Annotations []annotate.Annotation `json:"annotations,omitempty"`
	Gutter      bool                  `json:"gutter,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// DecodeError reports a line that could not be turned into an event. The
// stream stays usable after one.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("editor message %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder reads editor messages and converts them to pipeline events.
type Decoder struct {
	sc   *bufio.Scanner
	line int
	// Base is the configuration editor settings are layered onto. It is
	// updated with every configChanged message.
	Base config.Config
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader, base config.Config) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Decoder{sc: sc, Base: base}
}

// Next returns the next event. It returns io.EOF at the end of input and a
// *DecodeError for a bad line, after which Next may be called again.
func (d *Decoder) Next() (pipeline.Event, error) {
	for d.sc.Scan() {
		d.line++
		raw := d.sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &DecodeError{Line: d.line, Err: err}
		}
		ev, err := d.event(m)
		if err != nil {
			return nil, &DecodeError{Line: d.line, Err: err}
		}
		return ev, nil
	}
	if err := d.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (d *Decoder) event(m Message) (pipeline.Event, error) {
	switch m.Type {
	case TypeCommand:
		ev, ok := pipeline.CommandEvent(m.Command, m.Document, m.LineCount)
		if !ok {
			return nil, fmt.Errorf("%w: command %q", ErrUnknownMessage, m.Command)
		}
		return ev, nil
	case TypeActiveEditorChanged:
		return pipeline.ActiveEditorChanged{Doc: m.Document, Lines: m.LineCount}, nil
	case TypeTextChanged:
		return pipeline.TextChanged{Doc: m.Document, Lines: m.LineCount, Edits: m.Edits}, nil
	case TypeSaved:
		return pipeline.Saved{Doc: m.Document, Lines: m.LineCount}, nil
	case TypeConfigChanged:
		ev := pipeline.ConfigChanged{Keys: m.Keys}
		if m.Config != nil {
			merged := config.Merge(&d.Base, m.Config)
			d.Base = merged
			ev.Config = &merged
		}
		return ev, nil
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnknownMessage, m.Type)
}
