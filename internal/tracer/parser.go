// Package tracer runs the external tracer against a source file and turns
// its tagged output into structured results.
package tracer

import (
	"log/slog"
	"strings"
)

// Marker separates free-form tracer output from the JSON payload that follows it.
const Marker = "WOOF:"

// Parser extracts results from tracer output chunks. It keeps no state
// between calls: a marker split across two chunks is not recovered.
type Parser struct {
	Logger *slog.Logger
}

// Parse returns the payload after the last marker in chunk, or nil when the
// chunk has no marker or the payload does not decode.
func (p *Parser) Parse(chunk []byte) *Result {
	text := string(chunk)
	idx := strings.LastIndex(text, Marker)
	if idx == -1 {
		return nil
	}
	payload := text[idx+len(Marker):]
	res, err := decodePayload([]byte(payload))
	if err != nil {
		p.logger().Warn("failed to parse tracer output",
			"error", err,
			"payload", preview(payload, 120),
		)
		return nil
	}
	return res
}

func (p *Parser) logger() *slog.Logger {
	if p == nil || p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
