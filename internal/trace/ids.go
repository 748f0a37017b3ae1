// Package trace issues the run/session/trace/span identifiers and owns
// the pending-request table that pairs responses with requests.
package trace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns the random 128-bit identifier for one Sentinel
// process lifetime.
func NewRunID() string {
	return uuid.NewString()
}

// NewSessionID returns the identifier for one agent<->server
// conversation. Stdio-backed MCP has exactly one per run.
func NewSessionID() string {
	return uuid.NewString()
}

// NewTraceID returns a fresh 128-bit trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// NewSpanID generates a span ID.
func NewSpanID() string {
	return prefixedID("s", 16)
}

func prefixedID(prefix string, hexLen int) string {
	b := make([]byte, (hexLen+1)/2)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return fmt.Sprintf("%s-%x", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b)[:hexLen])
}
