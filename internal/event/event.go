// Package event defines the canonical event that flows from the stdio
// taps through the sequencer to every sink, plus the bounded queue that
// decouples the data path from the observation path.
package event

import "time"

// Direction marks which side of the proxy a line was observed on.
type Direction string

const (
	// Outbound is agent -> server (parent stdin to child stdin).
	Outbound Direction = "outbound"
	// Inbound is server -> agent (child stdout to parent stdout).
	Inbound Direction = "inbound"
)

// Event is one observed line, sequenced, correlated and redacted.
// EventID is the single ordering authority; TimestampNS is informational
// and may be non-monotonic.
type Event struct {
	EventID      uint64    `json:"event_id"`
	RunID        string    `json:"run_id"`
	TimestampNS  int64     `json:"timestamp_ns"`
	Direction    Direction `json:"direction"`
	Method       string    `json:"method,omitempty"`
	RequestID    any       `json:"request_id,omitempty"`
	LatencyMS    *uint32   `json:"latency_ms,omitempty"`
	SessionID    string    `json:"session_id"`
	TraceID      string    `json:"trace_id"`
	SpanID       string    `json:"span_id"`
	ParentSpanID string    `json:"parent_span_id,omitempty"`
	Note         string    `json:"note,omitempty"`
	Payload      any       `json:"payload"`
}

// Tap is one complete line as copied off a pump, before sequencing.
// Bytes is the pump's private copy; nothing else aliases it.
type Tap struct {
	Direction  Direction
	Bytes      []byte
	Oversized  bool
	ObservedAt time.Time
}
