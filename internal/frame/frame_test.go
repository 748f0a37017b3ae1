package frame

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRequest(t *testing.T) {
	m := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	if m == nil {
		t.Fatal("parse failed")
	}
	if m.Method != "tools/list" {
		t.Errorf("method = %q", m.Method)
	}
	if !m.HasID {
		t.Error("id not detected")
	}
	if m.ID.(json.Number).String() != "1" {
		t.Errorf("id = %v", m.ID)
	}
	if m.IsResponse {
		t.Error("request classified as response")
	}
}

func TestParseResponse(t *testing.T) {
	m := Parse([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`))
	if m == nil {
		t.Fatal("parse failed")
	}
	if !m.IsResponse {
		t.Error("response not classified")
	}
	if m.Method != "" {
		t.Errorf("response has method %q", m.Method)
	}
}

func TestParseNotification(t *testing.T) {
	m := Parse([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"p":1}}` + "\n"))
	if m == nil {
		t.Fatal("parse failed")
	}
	if m.HasID {
		t.Error("notification has no id")
	}
}

func TestParseStringID(t *testing.T) {
	m := Parse([]byte(`{"jsonrpc":"2.0","id":"abc","method":"x"}`))
	if m == nil || m.ID != "abc" {
		t.Fatalf("string id lost: %+v", m)
	}
}

func TestParseNullID(t *testing.T) {
	m := Parse([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32600}}`))
	if m == nil {
		t.Fatal("parse failed")
	}
	if !m.HasID || m.ID != nil {
		t.Errorf("null id should be present and nil: has=%v id=%v", m.HasID, m.ID)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"non-json", "hello world"},
		{"array root", `[1,2,3]`},
		{"string root", `"just a string"`},
		{"truncated", `{"jsonrpc":"2.0","id":`},
		{"trailing garbage", `{"a":1} extra`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if m := Parse([]byte(tc.in)); m != nil {
				t.Errorf("Parse(%q) = %+v, want nil", tc.in, m)
			}
		})
	}
}

func TestParsePreservesNumbers(t *testing.T) {
	m := Parse([]byte(`{"id":1,"method":"x","params":{"big":12345678901234567890}}`))
	if m == nil {
		t.Fatal("parse failed")
	}
	params := m.Payload["params"].(map[string]any)
	if params["big"].(json.Number).String() != "12345678901234567890" {
		t.Errorf("number reformatted: %v", params["big"])
	}
}

func collect(s *Splitter, chunks ...string) (lines []string, oversized []bool) {
	emit := func(line []byte, over bool) {
		lines = append(lines, string(line))
		oversized = append(oversized, over)
	}
	for _, c := range chunks {
		s.Feed([]byte(c), emit)
	}
	s.Close(emit)
	return lines, oversized
}

func TestSplitterWholeLines(t *testing.T) {
	lines, _ := collect(NewSplitter(0), "a\nb\n")
	if len(lines) != 2 || lines[0] != "a\n" || lines[1] != "b\n" {
		t.Errorf("lines = %q", lines)
	}
}

func TestSplitterPartialFrames(t *testing.T) {
	lines, _ := collect(NewSplitter(0), `{"id":`, `1}`, "\n", `{"id":2}`+"\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != `{"id":1}`+"\n" {
		t.Errorf("reassembly wrong: %q", lines[0])
	}
}

func TestSplitterTrailingFragment(t *testing.T) {
	lines, _ := collect(NewSplitter(0), "complete\n", "dangling")
	if len(lines) != 2 || lines[1] != "dangling" {
		t.Errorf("trailing fragment not flushed at close: %q", lines)
	}
}

func TestSplitterOversized(t *testing.T) {
	big := strings.Repeat("x", 100)
	lines, over := collect(NewSplitter(64), big+"\n", "small\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	if !over[0] {
		t.Error("oversized line not flagged")
	}
	if len(lines[0]) != 0 {
		t.Errorf("oversized bytes retained: %d", len(lines[0]))
	}
	if over[1] || lines[1] != "small\n" {
		t.Errorf("oversize state leaked into next line: %q over=%v", lines[1], over[1])
	}
}

func TestSplitterManyLinesOneChunk(t *testing.T) {
	lines, _ := collect(NewSplitter(0), "a\nb\nc\nd")
	want := []string{"a\n", "b\n", "c\n", "d"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
