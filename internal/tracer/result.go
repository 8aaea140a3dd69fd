package tracer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Result is one decoded trace payload: captured snapshots keyed by 1-based
// source line. A newer Result replaces an older one wholesale.
type Result struct {
	Generation uint64          `json:"generation" msgpack:"generation"`
	Lines      map[int][]Entry `json:"lines" msgpack:"lines"`
}

// Entry is a single capture on a line: the variable-state snapshot and the
// loop iteration it was taken in.
type Entry struct {
	Value json.RawMessage `json:"value" msgpack:"value"`
	Loop  int             `json:"loop" msgpack:"loop"`
}

// UnmarshalJSON accepts both {"value": v, "loop": n} and [v, n].
func (e *Entry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) == 0 || len(pair) > 2 {
			return fmt.Errorf("trace entry: want [value, loop], got %d elements", len(pair))
		}
		e.Value = pair[0]
		e.Loop = 0
		if len(pair) == 2 {
			if err := json.Unmarshal(pair[1], &e.Loop); err != nil {
				return fmt.Errorf("trace entry loop: %w", err)
			}
		}
		return nil
	}
	type plain Entry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	return nil
}

// SortedLines returns the annotated line numbers in ascending order.
func (r *Result) SortedLines() []int {
	if r == nil {
		return nil
	}
	lines := make([]int, 0, len(r.Lines))
	for l := range r.Lines {
		lines = append(lines, l)
	}
	sort.Ints(lines)
	return lines
}

// decodePayload decodes the first JSON value in data. Keys must be decimal
// line numbers.
func decodePayload(data []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var raw map[string][]Entry
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("payload is null")
	}
	lines := make(map[int][]Entry, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("line key %q: %w", k, err)
		}
		lines[n] = v
	}
	return &Result{Lines: lines}, nil
}
