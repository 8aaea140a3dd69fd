package tracer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func quietParser() *Parser {
	return &Parser{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestParse_LastMarkerWins(t *testing.T) {
	p := quietParser()
	out := `progress...WOOF:{"3":[{"value":{"x":1},"loop":0}]}...WOOF:{"5":[{"value":{"y":2},"loop":3}]}`

	res := p.Parse([]byte(out))
	if res == nil {
		t.Fatal("expected a result, got nil")
	}
	if _, ok := res.Lines[3]; ok {
		t.Errorf("line 3 came from an earlier marker and should not be present")
	}
	entries, ok := res.Lines[5]
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one entry on line 5, got %+v", res.Lines)
	}
	if entries[0].Loop != 3 {
		t.Errorf("loop = %d, want 3", entries[0].Loop)
	}
	if string(entries[0].Value) != `{"y":2}` {
		t.Errorf("value = %s, want {\"y\":2}", entries[0].Value)
	}
}

func TestParse_NoMarkerReturnsNil(t *testing.T) {
	p := quietParser()
	for _, in := range []string{"", "just some progress text", `{"3":[]}`, "WOOF"} {
		if res := p.Parse([]byte(in)); res != nil {
			t.Errorf("Parse(%q) = %+v, want nil", in, res)
		}
	}
}

func TestParse_MalformedPayloadIsLoggedNotRaised(t *testing.T) {
	var logged bytes.Buffer
	p := &Parser{Logger: slog.New(slog.NewTextHandler(&logged, nil))}

	cases := []struct {
		name  string
		input string
	}{
		{"truncated object", `WOOF:{not valid json`},
		{"non-numeric line", `WOOF:{"abc":[]}`},
		{"null payload", `WOOF:null`},
		{"array payload", `WOOF:[1,2,3]`},
		{"empty after marker", `WOOF:`},
		{"bad entry pair", `WOOF:{"1":[[1,2,3]]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logged.Reset()
			if res := p.Parse([]byte(tc.input)); res != nil {
				t.Fatalf("expected nil, got %+v", res)
			}
			if !strings.Contains(logged.String(), "failed to parse tracer output") {
				t.Errorf("expected a logged parse failure, got %q", logged.String())
			}
		})
	}
}

func TestParse_PairEntriesAndTrailingText(t *testing.T) {
	p := quietParser()
	res := p.Parse([]byte(`diag WOOF:{"7":[[{"i":0},0],[{"i":1},1]]} trailing`))
	if res == nil {
		t.Fatal("expected a result")
	}
	got := res.Lines[7]
	if len(got) != 2 || got[1].Loop != 1 || string(got[1].Value) != `{"i":1}` {
		t.Errorf("unexpected entries: %+v", got)
	}
}

// Feature: wolf, Property 3: the payload after the last marker is what Parse returns
func TestParse_PrefixNoiseNeverMatters(t *testing.T) {
	p := quietParser()
	noise := rapid.StringMatching(`[a-zA-Z0-9 .:{}"\[\]]{0,40}`)

	rapid.Check(t, func(rt *rapid.T) {
		line := rapid.IntRange(1, 5000).Draw(rt, "line")
		loop := rapid.IntRange(0, 100).Draw(rt, "loop")
		payload, err := json.Marshal(map[string][]Entry{
			fmt.Sprint(line): {{Value: json.RawMessage(`{"v":true}`), Loop: loop}},
		})
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}
		in := noise.Draw(rt, "before") + Marker + noise.Draw(rt, "decoy") + Marker + string(payload)

		res := p.Parse([]byte(in))
		if res == nil {
			rt.Fatalf("Parse(%q) = nil", in)
		}
		if len(res.Lines) != 1 || len(res.Lines[line]) != 1 || res.Lines[line][0].Loop != loop {
			rt.Fatalf("Parse(%q) = %+v", in, res.Lines)
		}
	})
}

func TestSortedLines(t *testing.T) {
	r := &Result{Lines: map[int][]Entry{9: nil, 2: nil, 5: nil}}
	got := r.SortedLines()
	want := []int{2, 5, 9}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("SortedLines() = %v, want %v", got, want)
	}
	var nilResult *Result
	if nilResult.SortedLines() != nil {
		t.Error("nil result should have no lines")
	}
}
