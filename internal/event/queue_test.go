package event

import (
	"testing"
	"time"

	"github.com/mcpsentinel/sentinel/internal/stats"
)

func tap(n byte) Tap {
	return Tap{Direction: Outbound, Bytes: []byte{n}, ObservedAt: time.Now()}
}

func TestTrySendNeverBlocks(t *testing.T) {
	c := &stats.Counters{}
	q := NewTapQueue(2, c)

	for i := 0; i < 10; i++ {
		q.TrySend(tap(byte(i)))
	}
	if q.Len() != 2 {
		t.Errorf("queue len = %d, want 2", q.Len())
	}
	if c.ObservationsDropped.Load() != 8 {
		t.Errorf("dropped = %d, want 8", c.ObservationsDropped.Load())
	}
}

func TestDropOldest(t *testing.T) {
	c := &stats.Counters{}
	q := NewTapQueue(2, c)

	q.TrySend(tap(1))
	q.TrySend(tap(2))
	q.TrySend(tap(3)) // evicts 1

	first := <-q.C()
	if first.Bytes[0] != 2 {
		t.Errorf("oldest surviving tap = %d, want 2", first.Bytes[0])
	}
	second := <-q.C()
	if second.Bytes[0] != 3 {
		t.Errorf("newest tap = %d, want 3", second.Bytes[0])
	}
}

func TestNoDropsUnderCapacity(t *testing.T) {
	c := &stats.Counters{}
	q := NewTapQueue(16, c)
	for i := 0; i < 16; i++ {
		if !q.TrySend(tap(byte(i))) {
			t.Fatalf("send %d rejected under capacity", i)
		}
	}
	if c.ObservationsDropped.Load() != 0 {
		t.Errorf("dropped = %d, want 0", c.ObservationsDropped.Load())
	}
}
