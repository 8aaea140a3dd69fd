package tui

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/fakeyudi/wolf/internal/annotate"
	"github.com/fakeyudi/wolf/internal/pipeline"
)

var (
	headerColor     = color.New(color.FgHiBlack)
	noticeColor     = color.New(color.FgCyan, color.Bold)
	diagnosticColor = color.New(color.FgRed)
)

// PlainSink prints every update to a writer, for --plain and non-TTY use.
type PlainSink struct {
	mu    sync.Mutex
	w     io.Writer
	read  SourceReader
	width int
}

// NewPlainSink returns a sink printing to w. width 0 disables truncation.
func NewPlainSink(w io.Writer, read SourceReader, width int) *PlainSink {
	if read == nil {
		read = ReadLines
	}
	return &PlainSink{w: w, read: read, width: width}
}

func (s *PlainSink) Show(v pipeline.View) {
	src, err := s.read(v.Doc)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		diagnosticColor.Fprintf(s.w, "reading %s: %v\n", v.Doc, err)
		return
	}
	headerColor.Fprintf(s.w, "── %s · run %d ──\n", v.Doc, v.Generation)
	fmt.Fprint(s.w, annotate.Render(src, v.Annotations, annotate.RenderOptions{Width: s.width, Gutter: v.Gutter}))
}

func (s *PlainSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	headerColor.Fprintln(s.w, "── annotations cleared ──")
}

func (s *PlainSink) Notice(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	noticeColor.Fprintln(s.w, msg)
}

func (s *PlainSink) Diagnostic(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diagnosticColor.Fprintln(s.w, msg)
}

// RequestSave is a no-op, as for Sink.
func (s *PlainSink) RequestSave(string) {}
