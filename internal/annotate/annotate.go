// Package annotate keeps trace annotations aligned with a document that
// keeps changing after the trace was captured.
package annotate

import (
	"sort"

	"github.com/fakeyudi/wolf/internal/tracer"
)

// Edit is a document change expressed in lines: at 1-based Line, Removed
// line breaks were deleted and Added line breaks inserted. A change inside
// a single line is {Line, 0, 0}.
type Edit struct {
	Line    int `json:"line"`
	Removed int `json:"removed"`
	Added   int `json:"added"`
}

// Annotation is what a front-end draws next to one source line.
type Annotation struct {
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Loops int    `json:"loops"`
	Stale bool   `json:"stale"`
}

// Set is the annotation state for one document.
type Set struct {
	result    *tracer.Result
	lines     map[int][]tracer.Entry
	stale     map[int]bool
	lineCount int
}

// Replace installs res as the current result, discarding everything
// derived from the previous one.
func (s *Set) Replace(res *tracer.Result, lineCount int) {
	s.result = res
	s.lineCount = lineCount
	s.stale = make(map[int]bool)
	s.lines = make(map[int][]tracer.Entry)
	if res == nil {
		return
	}
	for l, entries := range res.Lines {
		s.lines[l] = entries
	}
}

// Clear drops the current result.
func (s *Set) Clear() {
	s.Replace(nil, 0)
}

// Empty reports whether there is nothing to show.
func (s *Set) Empty() bool {
	return len(s.lines) == 0
}

// Generation returns the generation of the current result, or 0.
func (s *Set) Generation() uint64 {
	if s.result == nil {
		return 0
	}
	return s.result.Generation
}

// Stale reports whether any annotation was touched by an edit since capture.
func (s *Set) Stale() bool {
	return len(s.stale) > 0
}

// Apply moves annotations to follow e.
func (s *Set) Apply(e Edit) {
	if len(s.lines) == 0 || e.Line < 1 {
		return
	}
	delta := e.Added - e.Removed
	regionEnd := e.Line + e.Removed

	lines := make(map[int][]tracer.Entry, len(s.lines))
	stale := make(map[int]bool, len(s.stale))
	for l, entries := range s.lines {
		switch {
		case l < e.Line:
			lines[l] = entries
			if s.stale[l] {
				stale[l] = true
			}
		case l == e.Line:
			lines[l] = entries
			stale[l] = true
		case l <= regionEnd:
			// the line was deleted
		default:
			lines[l+delta] = entries
			if s.stale[l] {
				stale[l+delta] = true
			}
		}
	}
	s.lines = lines
	s.stale = stale
	s.lineCount += delta
}

// Annotations returns the annotations to draw for a document of lineCount
// lines, in line order. Lines beyond the document are dropped; lineCount
// <= 0 disables that check.
func (s *Set) Annotations(lineCount int) []Annotation {
	out := make([]Annotation, 0, len(s.lines))
	for l, entries := range s.lines {
		if lineCount > 0 && l > lineCount {
			continue
		}
		if len(entries) == 0 {
			continue
		}
		out = append(out, Annotation{
			Line:  l,
			Text:  Format(entries),
			Loops: LoopCount(entries),
			Stale: s.stale[l],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}
