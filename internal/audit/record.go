package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GenesisHash is the prev_hash of the first record in a new log:
// 32 zero bytes, hex-encoded.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is one line of the audit log. Event records carry the chain
// fields; checkpoint records carry only the checkpoint object and do
// not advance the chain.
type Record struct {
	Event      json.RawMessage `json:"event,omitempty"`
	PrevHash   string          `json:"prev_hash,omitempty"`
	SelfHash   string          `json:"self_hash,omitempty"`
	Checkpoint *Checkpoint     `json:"checkpoint,omitempty"`
}

// Checkpoint is a signature over the chain tail at a point in the
// stream. Sig covers the raw 32-byte self_hash of the last event
// record before the checkpoint.
type Checkpoint struct {
	Sig                  string `json:"sig"`
	PubkeyFingerprint    string `json:"pubkey_fingerprint"`
	CoversThroughEventID uint64 `json:"covers_through_event_id"`
}

// SelfHash computes SHA-256 over canonical(event) followed by the hex
// prev_hash string.
func SelfHash(canonicalEvent []byte, prevHashHex string) string {
	h := sha256.New()
	h.Write(canonicalEvent)
	h.Write([]byte(prevHashHex))
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the short identifier auditors use to refer to a
// signing public key: the first 6 bytes of its SHA-256, hex-encoded.
func Fingerprint(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return hex.EncodeToString(h[:6])
}

// signCheckpoint signs the raw bytes of the chain-tail hash.
func signCheckpoint(key ed25519.PrivateKey, selfHashHex string, coversThrough uint64) (*Checkpoint, error) {
	raw, err := hex.DecodeString(selfHashHex)
	if err != nil {
		return nil, fmt.Errorf("audit: decode chain tail: %w", err)
	}
	sig := ed25519.Sign(key, raw)
	return &Checkpoint{
		Sig:                  hex.EncodeToString(sig),
		PubkeyFingerprint:    Fingerprint(key.Public().(ed25519.PublicKey)),
		CoversThroughEventID: coversThrough,
	}, nil
}
