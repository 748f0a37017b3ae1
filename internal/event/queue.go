package event

import "github.com/mcpsentinel/sentinel/internal/stats"

// DefaultQueueDepth bounds the observation channel between the pumps
// and the sequencer.
const DefaultQueueDepth = 16384

// TapQueue is the bounded observation channel. Producers never block:
// when the queue is full the oldest pending tap is discarded and the
// drop counter incremented. This is the fail-open contract — the data
// path pays at most a few non-blocking channel operations per line.
type TapQueue struct {
	ch       chan Tap
	counters *stats.Counters
}

// NewTapQueue creates a queue with the given depth (DefaultQueueDepth
// when depth <= 0).
func NewTapQueue(depth int, counters *stats.Counters) *TapQueue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &TapQueue{
		ch:       make(chan Tap, depth),
		counters: counters,
	}
}

// TrySend enqueues a tap without blocking. On a full queue it drops the
// oldest pending tap to make room. Returns false only if the tap itself
// had to be discarded (queue refilled between the eviction and the
// retry under producer contention).
func (q *TapQueue) TrySend(t Tap) bool {
	select {
	case q.ch <- t:
		return true
	default:
	}

	// Full: evict the oldest pending observation, then retry once.
	select {
	case <-q.ch:
		q.counters.ObservationsDropped.Add(1)
	default:
	}

	select {
	case q.ch <- t:
		return true
	default:
		q.counters.ObservationsDropped.Add(1)
		return false
	}
}

// C exposes the receive side for the sequencer.
func (q *TapQueue) C() <-chan Tap {
	return q.ch
}

// Len reports the number of taps waiting.
func (q *TapQueue) Len() int {
	return len(q.ch)
}
