// Package sink defines the narrow contract every event consumer
// implements: accept events in event_id order, never block the
// producer.
package sink

import "github.com/mcpsentinel/sentinel/internal/event"

// Sink consumes sequenced events. Deliver must not block on anything
// slower than a non-blocking enqueue; Flush is called once at shutdown
// after the sequencer drained.
type Sink interface {
	Deliver(ev event.Event)
	Flush() error
}

// Fanout dispatches each event to every registered sink in order.
// Sinks are registered before the sequencer starts and never after, so
// no locking is needed.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a coordinator over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Deliver hands the event to each sink.
func (f *Fanout) Deliver(ev event.Event) {
	for _, s := range f.sinks {
		s.Deliver(ev)
	}
}

// Flush flushes every sink, returning the first error.
func (f *Fanout) Flush() error {
	var first error
	for _, s := range f.sinks {
		if err := s.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
