package trace

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/frame"
)

func jsonNumber(s string) json.Number {
	return json.Number(s)
}

func request(id any, method string) *frame.Message {
	return &frame.Message{Method: method, ID: id, HasID: true}
}

func response(id any) *frame.Message {
	return &frame.Message{ID: id, HasID: true, IsResponse: true}
}

func TestRequestResponseCorrelation(t *testing.T) {
	tr := NewTracker("sess", 0)
	start := time.Now()

	req, diags := tr.Observe(1, event.Outbound, request("1", "tools/list"), start)
	if diags != nil {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if req.TraceID == "" || req.SpanID == "" {
		t.Fatal("request ids missing")
	}

	resp, _ := tr.Observe(2, event.Inbound, response("1"), start.Add(25*time.Millisecond))
	if resp.TraceID != req.TraceID {
		t.Errorf("trace not shared: %s vs %s", resp.TraceID, req.TraceID)
	}
	if resp.ParentSpanID != req.SpanID {
		t.Errorf("parent span = %s, want %s", resp.ParentSpanID, req.SpanID)
	}
	if resp.LatencyMS == nil || *resp.LatencyMS < 20 {
		t.Errorf("latency = %v", resp.LatencyMS)
	}
	if resp.Method != "tools/list" {
		t.Errorf("method not recovered from pending entry: %q", resp.Method)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("entry not removed on match")
	}
}

func TestOrphanResponse(t *testing.T) {
	tr := NewTracker("sess", 0)
	c, _ := tr.Observe(1, event.Inbound, response("nope"), time.Now())
	if c.Note != "orphan" {
		t.Errorf("note = %q, want orphan", c.Note)
	}
	if c.LatencyMS != nil {
		t.Error("orphan has latency")
	}
}

func TestNotificationNoPending(t *testing.T) {
	tr := NewTracker("sess", 0)
	c, _ := tr.Observe(1, event.Outbound, &frame.Message{Method: "notify"}, time.Now())
	if c.TraceID == "" {
		t.Error("notification has no trace")
	}
	if tr.PendingCount() != 0 {
		t.Error("notification created a pending entry")
	}
}

func TestInboundNotificationFreshTrace(t *testing.T) {
	tr := NewTracker("sess", 0)
	a, _ := tr.Observe(1, event.Inbound, &frame.Message{Method: "server/push"}, time.Now())
	b, _ := tr.Observe(2, event.Inbound, &frame.Message{Method: "server/push"}, time.Now())
	if a.TraceID == b.TraceID {
		t.Error("server notifications must get fresh traces")
	}
}

func TestUnparsedLine(t *testing.T) {
	tr := NewTracker("sess", 0)
	c, _ := tr.Observe(1, event.Inbound, nil, time.Now())
	if c.Note != "unparsed" {
		t.Errorf("note = %q", c.Note)
	}
}

func TestDuplicateRequestID(t *testing.T) {
	tr := NewTracker("sess", 0)
	now := time.Now()

	first, _ := tr.Observe(1, event.Outbound, request("7", "a"), now)
	_, diags := tr.Observe(2, event.Outbound, request("7", "b"), now)

	if len(diags) != 1 || diags[0].Note != "duplicate_request_id" {
		t.Fatalf("diags = %v", diags)
	}
	if diags[0].TraceID != first.TraceID {
		t.Error("diagnostic should reference the dropped request's trace")
	}
	if tr.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", tr.PendingCount())
	}

	// The response now matches the second request.
	resp, _ := tr.Observe(3, event.Inbound, response("7"), now)
	if resp.Method != "b" {
		t.Errorf("matched method = %q, want b (newer request wins)", resp.Method)
	}
}

func TestIDTypesDoNotCollide(t *testing.T) {
	tr := NewTracker("sess", 0)
	now := time.Now()

	numReq, _ := tr.Observe(1, event.Outbound, request(jsonNumber("1"), "num"), now)
	strReq, _ := tr.Observe(2, event.Outbound, request("1", "str"), now)
	if tr.PendingCount() != 2 {
		t.Fatalf("pending = %d; number 1 and string \"1\" collided", tr.PendingCount())
	}

	strResp, _ := tr.Observe(3, event.Inbound, response("1"), now)
	if strResp.TraceID != strReq.TraceID {
		t.Error("string response matched the wrong entry")
	}
	numResp, _ := tr.Observe(4, event.Inbound, response(jsonNumber("1")), now)
	if numResp.TraceID != numReq.TraceID {
		t.Error("numeric response matched the wrong entry")
	}
}

func TestTableOverflowEvictsOldest(t *testing.T) {
	tr := NewTracker("sess", 3)
	now := time.Now()

	oldest, _ := tr.Observe(1, event.Outbound, request("a", "m"), now)
	tr.Observe(2, event.Outbound, request("b", "m"), now)
	tr.Observe(3, event.Outbound, request("c", "m"), now)

	_, diags := tr.Observe(4, event.Outbound, request("d", "m"), now)
	if len(diags) != 1 || diags[0].Note != "orphan_request" {
		t.Fatalf("diags = %v", diags)
	}
	if diags[0].TraceID != oldest.TraceID {
		t.Error("eviction should hit the oldest entry")
	}
	if tr.PendingCount() != 3 {
		t.Errorf("pending = %d, want 3", tr.PendingCount())
	}

	// The evicted id is now an orphan.
	c, _ := tr.Observe(5, event.Inbound, response("a"), now)
	if c.Note != "orphan" {
		t.Errorf("evicted id matched: note=%q", c.Note)
	}
}

func TestDrainPending(t *testing.T) {
	tr := NewTracker("sess", 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		tr.Observe(uint64(i+1), event.Outbound, request(fmt.Sprintf("id-%d", i), "m"), now)
	}

	diags := tr.DrainPending()
	if len(diags) != 5 {
		t.Fatalf("drained %d, want 5", len(diags))
	}
	for _, d := range diags {
		if d.Note != "orphan_request" {
			t.Errorf("note = %q", d.Note)
		}
	}
	if tr.PendingCount() != 0 {
		t.Error("table not emptied")
	}
	if again := tr.DrainPending(); len(again) != 0 {
		t.Error("second drain not empty")
	}
}

func TestKeyForID(t *testing.T) {
	if KeyForID(jsonNumber("1")) == KeyForID("1") {
		t.Error("canonical keys collide")
	}
	if KeyForID(nil) != "null" {
		t.Errorf("nil key = %q", KeyForID(nil))
	}
}
