package editor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/fakeyudi/wolf/internal/pipeline"
)

// Sink writes pipeline output as protocol messages. It is safe for
// concurrent use.
type Sink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger *slog.Logger
}

// NewSink returns a sink writing one message per line to w.
func NewSink(w io.Writer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Sink{enc: enc, logger: logger}
}

func (s *Sink) Show(v pipeline.View) {
	s.write(Message{
		Type:        TypeResult,
		Document:    v.Doc,
		Generation:  v.Generation,
		Annotations: v.Annotations,
		Gutter:      v.Gutter,
	})
}

func (s *Sink) Clear()                 { s.write(Message{Type: TypeClear}) }
func (s *Sink) Notice(msg string)      { s.write(Message{Type: TypeNotice, Message: msg}) }
func (s *Sink) Diagnostic(msg string)  { s.write(Message{Type: TypeDiagnostic, Message: msg}) }
func (s *Sink) RequestSave(doc string) { s.write(Message{Type: TypeSave, Document: doc}) }

func (s *Sink) write(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(m); err != nil {
		s.logger.Warn("writing editor message", "type", m.Type, "error", err)
	}
}

// Poster accepts pipeline events.
type Poster interface {
	Post(ev pipeline.Event) bool
}

// Serve decodes messages from d and posts them to p until input ends, ctx
// is cancelled or p stops accepting events. Bad lines are logged and skipped.
func Serve(ctx context.Context, d *Decoder, p Poster, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		ev, err := d.Next()
		var derr *DecodeError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &derr):
			logger.Warn("skipping editor message", "line", derr.Line, "error", derr.Err)
			continue
		case err != nil:
			return err
		}
		if !p.Post(ev) {
			return nil
		}
	}
}
