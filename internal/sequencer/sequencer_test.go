package sequencer

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/redact"
	"github.com/mcpsentinel/sentinel/internal/stats"
	"github.com/mcpsentinel/sentinel/internal/trace"
)

// memSink records delivered events in order.
type memSink struct {
	events []event.Event
}

func (m *memSink) Deliver(ev event.Event) { m.events = append(m.events, ev) }
func (m *memSink) Flush() error           { return nil }

func newTestSequencer(depth int) (*Sequencer, *memSink, *event.TapQueue) {
	counters := &stats.Counters{}
	queue := event.NewTapQueue(depth, counters)
	tracker := trace.NewTracker("sess-1", 0)
	out := &memSink{}
	seq := New("run-1", queue, tracker, redact.New(), out, counters, zap.NewNop())
	return seq, out, queue
}

func push(q *event.TapQueue, dir event.Direction, line string) {
	q.TrySend(event.Tap{Direction: dir, Bytes: []byte(line + "\n"), ObservedAt: time.Now()})
}

func drainAll(seq *Sequencer) {
	seq.Drain(time.Now().Add(time.Second))
}

func TestNormalCall(t *testing.T) {
	seq, out, q := newTestSequencer(0)

	push(q, event.Outbound, `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	push(q, event.Inbound, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`)
	drainAll(seq)

	if len(out.events) != 2 {
		t.Fatalf("events = %d, want 2", len(out.events))
	}
	req, resp := out.events[0], out.events[1]

	if req.EventID != 1 || resp.EventID != 2 {
		t.Errorf("event ids %d,%d, want 1,2", req.EventID, resp.EventID)
	}
	if req.TraceID != resp.TraceID {
		t.Error("request and response must share a trace")
	}
	if resp.ParentSpanID != req.SpanID {
		t.Errorf("parent span = %q, want %q", resp.ParentSpanID, req.SpanID)
	}
	if resp.LatencyMS == nil {
		t.Error("response has no latency")
	}
	if req.Method != "tools/list" {
		t.Errorf("method = %q", req.Method)
	}
	if req.SessionID != "sess-1" || req.RunID != "run-1" {
		t.Errorf("identity fields wrong: %+v", req)
	}
}

func TestPayloadRedacted(t *testing.T) {
	seq, out, q := newTestSequencer(0)

	push(q, event.Outbound, `{"id":2,"method":"x","params":{"email":"a@b.c","api_key":"sk-ABCDEFGHIJKLMNOPQRST"}}`)
	drainAll(seq)

	params := out.events[0].Payload.(map[string]any)["params"].(map[string]any)
	if params["email"] != redact.Placeholder {
		t.Errorf("email = %v", params["email"])
	}
	if params["api_key"] != redact.Placeholder {
		t.Errorf("api_key = %v", params["api_key"])
	}
}

func TestUnparsedLineRecorded(t *testing.T) {
	seq, out, q := newTestSequencer(0)

	push(q, event.Inbound, "not json at all")
	drainAll(seq)

	ev := out.events[0]
	if ev.Note != "unparsed" {
		t.Errorf("note = %q", ev.Note)
	}
	if ev.Method != "" {
		t.Errorf("method = %q", ev.Method)
	}
	raw := ev.Payload.(map[string]any)["raw"]
	if raw != "not json at all" {
		t.Errorf("raw = %v", raw)
	}
}

func TestOversizedLineRecorded(t *testing.T) {
	seq, out, q := newTestSequencer(0)

	q.TrySend(event.Tap{Direction: event.Outbound, Oversized: true, ObservedAt: time.Now()})
	drainAll(seq)

	if out.events[0].Note != "oversized" {
		t.Errorf("note = %q", out.events[0].Note)
	}
	if out.events[0].Payload != nil {
		t.Errorf("oversized payload = %v", out.events[0].Payload)
	}
}

func TestDuplicateRequestIDDiagnostic(t *testing.T) {
	seq, out, q := newTestSequencer(0)

	push(q, event.Outbound, `{"id":7,"method":"a"}`)
	push(q, event.Outbound, `{"id":7,"method":"b"}`)
	drainAll(seq)

	// Two requests, the duplicate diagnostic, and the surviving entry
	// drained as an orphan.
	if len(out.events) != 4 {
		t.Fatalf("events = %d, want 4", len(out.events))
	}
	diag := out.events[2]
	if diag.Note != "duplicate_request_id" {
		t.Errorf("note = %q", diag.Note)
	}
	if diag.EventID != 3 {
		t.Errorf("diagnostic event id = %d, want 3", diag.EventID)
	}
	if out.events[3].Note != "orphan_request" {
		t.Errorf("drained entry note = %q", out.events[3].Note)
	}
}

func TestDrainEmitsOrphanRequests(t *testing.T) {
	seq, out, q := newTestSequencer(0)

	push(q, event.Outbound, `{"id":1,"method":"slow/call"}`)
	drainAll(seq)

	if len(out.events) != 2 {
		t.Fatalf("events = %d, want 2 (request + orphan)", len(out.events))
	}
	orphan := out.events[1]
	if orphan.Note != "orphan_request" {
		t.Errorf("note = %q", orphan.Note)
	}
	payload := orphan.Payload.(map[string]any)
	if payload["method"] != "slow/call" {
		t.Errorf("orphan payload = %v", payload)
	}
}

func TestEventIDsStrictlySequential(t *testing.T) {
	seq, out, q := newTestSequencer(0)

	for i := 0; i < 50; i++ {
		dir := event.Outbound
		if i%2 == 1 {
			dir = event.Inbound
		}
		push(q, dir, `{"method":"n"}`)
	}
	drainAll(seq)

	if len(out.events) != 50 {
		t.Fatalf("events = %d", len(out.events))
	}
	for i, ev := range out.events {
		if ev.EventID != uint64(i+1) {
			t.Fatalf("event %d has id %d", i, ev.EventID)
		}
	}
}

func TestRawPayloadRedacted(t *testing.T) {
	seq, out, q := newTestSequencer(0)

	push(q, event.Inbound, "stray secret sk-ABCDEFGHIJKLMNOPQRST here")
	drainAll(seq)

	raw, _ := out.events[0].Payload.(map[string]any)["raw"].(string)
	if strings.Contains(raw, "sk-ABCDEFGHIJKLMNOPQRST") {
		t.Errorf("raw line not redacted: %q", raw)
	}
}
