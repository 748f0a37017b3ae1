// Package sequencer is the single place event_ids are issued. It
// serializes the two pumps' observations into one total order, runs
// the parse/correlate/redact pipeline, and hands finished events to
// the sink fan-out.
package sequencer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/frame"
	"github.com/mcpsentinel/sentinel/internal/redact"
	"github.com/mcpsentinel/sentinel/internal/sink"
	"github.com/mcpsentinel/sentinel/internal/stats"
	"github.com/mcpsentinel/sentinel/internal/trace"
)

// Sequencer owns the event_id counter. Single goroutine; the order
// taps are received on the queue is the order events are numbered,
// which is the ordering authority for the whole system.
type Sequencer struct {
	runID    string
	queue    *event.TapQueue
	tracker  *trace.Tracker
	redactor *redact.Redactor
	out      sink.Sink
	counters *stats.Counters
	logger   *zap.Logger

	nextID uint64
}

// New wires a sequencer. out is typically a sink.Fanout.
func New(runID string, queue *event.TapQueue, tracker *trace.Tracker, redactor *redact.Redactor, out sink.Sink, counters *stats.Counters, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		runID:    runID,
		queue:    queue,
		tracker:  tracker,
		redactor: redactor,
		out:      out,
		counters: counters,
		logger:   logger,
	}
}

// Run consumes taps until ctx is cancelled. Call Drain afterwards to
// empty the queue and flush pending-request diagnostics.
func (s *Sequencer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tap := <-s.queue.C():
			s.handle(tap)
		}
	}
}

// Drain consumes whatever is still queued, bounded by the deadline,
// then emits one orphan_request diagnostic per still-pending request.
// Returns the number of taps abandoned to the deadline.
func (s *Sequencer) Drain(deadline time.Time) int {
	for time.Now().Before(deadline) {
		select {
		case tap := <-s.queue.C():
			s.handle(tap)
			continue
		default:
		}
		break
	}
	abandoned := s.queue.Len()
	if abandoned > 0 {
		s.logger.Warn("drain deadline reached, observations dropped",
			zap.Int("count", abandoned))
		s.counters.ObservationsDropped.Add(uint64(abandoned))
	}

	for _, diag := range s.tracker.DrainPending() {
		s.emitDiagnostic(diag)
	}
	return abandoned
}

func (s *Sequencer) handle(tap event.Tap) {
	var msg *frame.Message
	if !tap.Oversized {
		msg = frame.Parse(tap.Bytes)
	}

	id := s.issue()
	corr, diags := s.tracker.Observe(id, tap.Direction, msg, tap.ObservedAt)

	ev := event.Event{
		EventID:      id,
		RunID:        s.runID,
		TimestampNS:  tap.ObservedAt.UnixNano(),
		Direction:    tap.Direction,
		Method:       corr.Method,
		LatencyMS:    corr.LatencyMS,
		SessionID:    s.tracker.SessionID(),
		TraceID:      corr.TraceID,
		SpanID:       corr.SpanID,
		ParentSpanID: corr.ParentSpanID,
		Note:         corr.Note,
	}
	if corr.HasID {
		ev.RequestID = corr.RequestID
	}

	switch {
	case tap.Oversized:
		ev.Note = "oversized"
		ev.Payload = nil
	case msg != nil:
		ev.Payload = s.redactor.Apply(msg.Payload)
	default:
		raw := strings.TrimRight(string(tap.Bytes), "\r\n")
		ev.Payload = s.redactor.Apply(map[string]any{"raw": raw})
	}

	s.deliver(ev)

	for _, diag := range diags {
		s.emitDiagnostic(diag)
	}
}

func (s *Sequencer) emitDiagnostic(diag trace.Diagnostic) {
	now := time.Now()
	s.deliver(event.Event{
		EventID:     s.issue(),
		RunID:       s.runID,
		TimestampNS: now.UnixNano(),
		Direction:   diag.Direction,
		SessionID:   s.tracker.SessionID(),
		TraceID:     diag.TraceID,
		SpanID:      diag.SpanID,
		Note:        diag.Note,
		Payload:     diag.Payload,
	})
}

func (s *Sequencer) deliver(ev event.Event) {
	s.counters.EventsSequenced.Add(1)
	s.out.Deliver(ev)
}

func (s *Sequencer) issue() uint64 {
	s.nextID++
	return s.nextID
}
