// Package frame turns the raw byte stream into complete lines and
// attempts the JSON-RPC decode. It tolerates everything: partial
// frames, non-JSON noise, oversized lines. A failed parse never stops
// the stream.
package frame

import (
	"bytes"
	"encoding/json"
	"io"
)

// MaxLineBytes bounds how much of a single line is retained for
// observation. Longer lines fail the parse but are still forwarded
// byte-for-byte by the proxy.
const MaxLineBytes = 4 << 20

// Message is a decoded JSON-RPC message. Only framing-level facts are
// extracted; params and results stay inside Payload untyped.
type Message struct {
	Method     string
	ID         any
	HasID      bool
	IsResponse bool
	Payload    map[string]any
}

// Parse attempts to decode one line as a JSON-RPC message. It returns
// nil for non-JSON input, truncated JSON, or a non-object root. Numbers
// are preserved as json.Number so canonical hashing never reformats
// them.
func Parse(line []byte) *Message {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil
	}
	// Trailing garbage after the object is not a valid frame.
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}

	m := &Message{Payload: payload}
	if v, ok := payload["method"].(string); ok {
		m.Method = v
	}
	if id, ok := payload["id"]; ok {
		m.ID = id
		m.HasID = true
	}
	_, hasResult := payload["result"]
	_, hasError := payload["error"]
	m.IsResponse = m.Method == "" && (hasResult || hasError)
	return m
}
