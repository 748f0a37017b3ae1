// Package stats holds the process-wide observability counters.
// Counters are atomics; every hot-path update is a single add.
package stats

import "sync/atomic"

// Counters tracks what the observation path dropped or degraded.
// The data path never reads these; they feed the /stats endpoint
// and the shutdown summary.
type Counters struct {
	ObservationsDropped atomic.Uint64
	EventsSequenced     atomic.Uint64
	PeersConnected      atomic.Int64
	PeersDropped        atomic.Uint64
	WSAuthFailures      atomic.Uint64
	SinkDegraded        atomic.Bool
}

// Snapshot returns a point-in-time copy suitable for JSON encoding.
func (c *Counters) Snapshot() map[string]any {
	return map[string]any{
		"observations_dropped": c.ObservationsDropped.Load(),
		"events_sequenced":     c.EventsSequenced.Load(),
		"peers_connected":      c.PeersConnected.Load(),
		"peers_dropped":        c.PeersDropped.Load(),
		"ws_auth_failures":     c.WSAuthFailures.Load(),
		"sink_degraded":        c.SinkDegraded.Load(),
	}
}
