package trace

import (
	"container/list"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/frame"
)

// DefaultMaxPending bounds the pending-request table.
const DefaultMaxPending = 65536

// pendingEntry records one outstanding outbound request.
type pendingEntry struct {
	key        string
	method     string
	eventID    uint64
	traceID    string
	spanID     string
	observedAt time.Time
	elem       *list.Element
}

// Correlation is what the tracker resolved for one observed message.
type Correlation struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	LatencyMS    *uint32
	Method       string
	RequestID    any
	HasID        bool
	Note         string
}

// Diagnostic describes a synthetic event the tracker wants emitted
// (duplicate request ids, evicted or drained pending entries). The
// sequencer assigns it an event_id like any other observation.
type Diagnostic struct {
	Note      string
	Direction event.Direction
	TraceID   string
	SpanID    string
	Payload   map[string]any
}

// Tracker owns the pending-request table. It is confined to the
// sequencer goroutine; no locking.
type Tracker struct {
	sessionID string
	max       int
	pending   map[string]*pendingEntry
	order     *list.List
}

// NewTracker creates a tracker for one session. maxPending <= 0 uses
// DefaultMaxPending.
func NewTracker(sessionID string, maxPending int) *Tracker {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Tracker{
		sessionID: sessionID,
		max:       maxPending,
		pending:   make(map[string]*pendingEntry),
		order:     list.New(),
	}
}

// SessionID returns the session this tracker serves.
func (t *Tracker) SessionID() string {
	return t.sessionID
}

// KeyForID returns the canonical JSON form of a JSON-RPC id, so the
// number 1 and the string "1" never collide in the table.
func KeyForID(id any) string {
	b, err := json.Marshal(id)
	if err != nil {
		return fmt.Sprintf("%v", id)
	}
	return string(b)
}

// Observe resolves identifiers for one parsed message. eventID is the
// id the sequencer already assigned to this observation. msg may be nil
// for lines that failed the parse. Returned diagnostics must be emitted
// as their own events after the observed one.
func (t *Tracker) Observe(eventID uint64, dir event.Direction, msg *frame.Message, at time.Time) (Correlation, []Diagnostic) {
	if msg == nil {
		return Correlation{
			TraceID: NewTraceID(),
			SpanID:  NewSpanID(),
			Note:    "unparsed",
		}, nil
	}

	c := Correlation{
		Method:    msg.Method,
		RequestID: msg.ID,
		HasID:     msg.HasID,
	}

	switch {
	case dir == event.Outbound && msg.Method != "" && msg.HasID:
		// New trace with an awaited response.
		c.TraceID = NewTraceID()
		c.SpanID = NewSpanID()
		var diags []Diagnostic
		if d := t.insert(msg, eventID, c.TraceID, c.SpanID, at); d != nil {
			diags = d
		}
		return c, diags

	case dir == event.Outbound && msg.Method != "":
		// Notification: traced but never answered.
		c.TraceID = NewTraceID()
		c.SpanID = NewSpanID()
		return c, nil

	case dir == event.Inbound && msg.HasID:
		key := KeyForID(msg.ID)
		entry, ok := t.pending[key]
		if !ok {
			c.TraceID = NewTraceID()
			c.SpanID = NewSpanID()
			c.Note = "orphan"
			return c, nil
		}
		delete(t.pending, key)
		t.order.Remove(entry.elem)

		lat := latencyMS(at.Sub(entry.observedAt))
		c.TraceID = entry.traceID
		c.SpanID = NewSpanID()
		c.ParentSpanID = entry.spanID
		c.LatencyMS = &lat
		if c.Method == "" {
			c.Method = entry.method
		}
		return c, nil

	default:
		// Inbound notification, or anything else the protocol allows.
		c.TraceID = NewTraceID()
		c.SpanID = NewSpanID()
		return c, nil
	}
}

// insert adds a pending entry, replacing a duplicate id and evicting
// the oldest entry when the table is full.
func (t *Tracker) insert(msg *frame.Message, eventID uint64, traceID, spanID string, at time.Time) []Diagnostic {
	var diags []Diagnostic
	key := KeyForID(msg.ID)

	if old, ok := t.pending[key]; ok {
		// MCP ids should be unique per session; the newer request wins.
		t.order.Remove(old.elem)
		delete(t.pending, key)
		diags = append(diags, Diagnostic{
			Note:      "duplicate_request_id",
			Direction: event.Outbound,
			TraceID:   old.traceID,
			SpanID:    NewSpanID(),
			Payload: map[string]any{
				"request_id":        json.RawMessage(key),
				"dropped_event_id":  old.eventID,
				"dropped_span_id":   old.spanID,
				"replaced_by_event": eventID,
			},
		})
	}

	if len(t.pending) >= t.max {
		diags = append(diags, t.evictOldest())
	}

	entry := &pendingEntry{
		key:        key,
		method:     msg.Method,
		eventID:    eventID,
		traceID:    traceID,
		spanID:     spanID,
		observedAt: at,
	}
	entry.elem = t.order.PushBack(entry)
	t.pending[key] = entry
	return diags
}

func (t *Tracker) evictOldest() Diagnostic {
	front := t.order.Front()
	entry := front.Value.(*pendingEntry)
	t.order.Remove(front)
	delete(t.pending, entry.key)
	return orphanDiagnostic(entry, "table overflow")
}

// DrainPending empties the table at shutdown, one orphan_request
// diagnostic per entry still awaiting a response.
func (t *Tracker) DrainPending() []Diagnostic {
	var diags []Diagnostic
	for e := t.order.Front(); e != nil; e = e.Next() {
		diags = append(diags, orphanDiagnostic(e.Value.(*pendingEntry), "shutdown drain"))
	}
	t.pending = make(map[string]*pendingEntry)
	t.order.Init()
	return diags
}

// PendingCount reports outstanding requests, for tests and the
// shutdown summary.
func (t *Tracker) PendingCount() int {
	return len(t.pending)
}

func orphanDiagnostic(entry *pendingEntry, reason string) Diagnostic {
	return Diagnostic{
		Note:      "orphan_request",
		Direction: event.Outbound,
		TraceID:   entry.traceID,
		SpanID:    NewSpanID(),
		Payload: map[string]any{
			"request_id":       json.RawMessage(entry.key),
			"method":           entry.method,
			"request_event_id": entry.eventID,
			"request_span_id":  entry.spanID,
			"reason":           reason,
		},
	}
}

func latencyMS(d time.Duration) uint32 {
	if d < 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}
