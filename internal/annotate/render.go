package annotate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/fakeyudi/wolf/internal/tracer"
)

// PawPrint marks annotated lines in the gutter.
const PawPrint = "🐾"

// Format renders the last capture on a line, plus the loop count the
// tracer reported when the line ran in more than one iteration:
// `x = 3, y = "a"  ×4`.
func Format(entries []tracer.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	last := entries[len(entries)-1]
	text := formatValue(last.Value)
	if n := LoopCount(entries); n > 1 {
		text += fmt.Sprintf("  ×%d", n)
	}
	return text
}

// LoopCount is the number of loop iterations a line was captured in,
// taken from the tracer's zero-based iteration indices. Captures may skip
// iterations, so the highest index counts, not the number of entries.
func LoopCount(entries []tracer.Entry) int {
	if len(entries) == 0 {
		return 0
	}
	n := 1
	for _, e := range entries {
		if e.Loop+1 > n {
			n = e.Loop + 1
		}
	}
	return n
}

// formatValue prints an object as `k = v` pairs in key order and anything
// else as compact JSON.
func formatValue(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+" = "+compact(obj[k]))
		}
		return strings.Join(parts, ", ")
	}
	return compact(raw)
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Truncate shortens s to at most width display cells.
func Truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

// RenderOptions controls Render.
type RenderOptions struct {
	Width  int  // total line width; 0 means unlimited
	Gutter bool // draw PawPrint next to annotated lines
}

// Render lays out source with annotations appended to their lines:
//
//	  3 🐾 x = compute()        # x = 3
func Render(source []string, anns []Annotation, opts RenderOptions) string {
	byLine := make(map[int]Annotation, len(anns))
	for _, a := range anns {
		byLine[a.Line] = a
	}

	numWidth := len(fmt.Sprint(len(source)))
	codeWidth := 0
	for _, l := range source {
		if w := runewidth.StringWidth(l); w > codeWidth {
			codeWidth = w
		}
	}

	var sb strings.Builder
	for i, line := range source {
		n := i + 1
		a, ok := byLine[n]

		gutter := ""
		if opts.Gutter {
			gutter = strings.Repeat(" ", runewidth.StringWidth(PawPrint))
			if ok {
				gutter = PawPrint
			}
			gutter += " "
		}
		prefix := fmt.Sprintf("%*d %s", numWidth, n, gutter)
		if !ok {
			sb.WriteString(strings.TrimRight(prefix+line, " ") + "\n")
			continue
		}

		code := runewidth.FillRight(line, codeWidth)
		note := "# " + a.Text
		if a.Stale {
			note += " (stale)"
		}
		row := prefix + code + "  " + note
		if opts.Width > 0 {
			row = Truncate(row, opts.Width)
		}
		sb.WriteString(row + "\n")
	}
	return sb.String()
}
