package audit

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Report is the verifier's outcome. Verification is all-or-nothing: a
// single failure stops the walk, so Failures holds at most the first
// mismatch.
type Report struct {
	RecordsChecked      int      `json:"records_checked"`
	FirstEventID        uint64   `json:"first_event_id"`
	LastEventID         uint64   `json:"last_event_id"`
	CheckpointsVerified int      `json:"checkpoints_verified"`
	PayloadsDecrypted   int      `json:"payloads_decrypted"`
	Failures            []string `json:"failures"`
}

// OK reports whether the log verified cleanly.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Verify walks an audit log in file order, re-computes the hash chain,
// checks checkpoint signatures against pub, and — when recipientPriv
// is non-nil — decrypts payload envelopes and verifies their AEAD
// binding.
func Verify(logPath string, pub ed25519.PublicKey, recipientPriv []byte) (*Report, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	report := &Report{}
	expectedFP := Fingerprint(pub)

	prevHash := GenesisHash
	var lastEventID uint64
	var lastRunID string

	fail := func(line int, format string, args ...any) {
		report.Failures = append(report.Failures,
			fmt.Sprintf("record %d: %s", line, fmt.Sprintf(format, args...)))
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			fail(lineNum, "parse error: %v", err)
			return report, nil
		}
		report.RecordsChecked++

		if rec.Checkpoint != nil {
			if err := verifyCheckpoint(rec.Checkpoint, pub, expectedFP, prevHash, lastEventID); err != nil {
				fail(lineNum, "%v", err)
				return report, nil
			}
			report.CheckpointsVerified++
			continue
		}

		if len(rec.Event) == 0 {
			fail(lineNum, "record has neither event nor checkpoint")
			return report, nil
		}

		eventID, runID, payload, err := eventFields(rec.Event)
		if err != nil {
			fail(lineNum, "%v", err)
			return report, nil
		}

		// Chain fields.
		if rec.PrevHash != prevHash {
			fail(lineNum, "prev_hash mismatch (expected %s, got %s)", prevHash, rec.PrevHash)
			return report, nil
		}
		canonical, err := CanonicalJSON(rec.Event)
		if err != nil {
			fail(lineNum, "%v", err)
			return report, nil
		}
		computed := SelfHash(canonical, rec.PrevHash)
		if rec.SelfHash != computed {
			fail(lineNum, "self_hash mismatch (expected %s, got %s)", computed, rec.SelfHash)
			return report, nil
		}

		// event_id contiguity, per run: a new run restarts at 1 while
		// the hash chain continues.
		if runID == lastRunID {
			if lastRunID != "" && eventID != lastEventID+1 {
				fail(lineNum, "event_id not contiguous (prev %d, got %d)", lastEventID, eventID)
				return report, nil
			}
		} else if eventID != 1 {
			fail(lineNum, "first event of run %s has event_id %d, expected 1", runID, eventID)
			return report, nil
		}

		if recipientPriv != nil {
			decrypted, err := maybeOpenEnvelope(payload, recipientPriv, eventID, runID)
			if err != nil {
				fail(lineNum, "%v", err)
				return report, nil
			}
			if decrypted {
				report.PayloadsDecrypted++
			}
		}

		if report.FirstEventID == 0 {
			report.FirstEventID = eventID
		}
		prevHash = computed
		lastEventID = eventID
		lastRunID = runID
		report.LastEventID = eventID
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}
	return report, nil
}

func verifyCheckpoint(cp *Checkpoint, pub ed25519.PublicKey, expectedFP, chainTail string, lastEventID uint64) error {
	if cp.PubkeyFingerprint != expectedFP {
		return fmt.Errorf("checkpoint key fingerprint %s does not match verification key %s",
			cp.PubkeyFingerprint, expectedFP)
	}
	if cp.CoversThroughEventID != lastEventID {
		return fmt.Errorf("checkpoint covers_through_event_id %d does not match stream position %d",
			cp.CoversThroughEventID, lastEventID)
	}
	tail, err := hex.DecodeString(chainTail)
	if err != nil {
		return fmt.Errorf("decode chain tail: %w", err)
	}
	sig, err := hex.DecodeString(cp.Sig)
	if err != nil {
		return fmt.Errorf("decode checkpoint signature: %w", err)
	}
	if !ed25519.Verify(pub, tail, sig) {
		return fmt.Errorf("checkpoint signature does not verify")
	}
	return nil
}

// eventFields extracts the identifiers the verifier needs without
// disturbing the raw bytes that get hashed.
func eventFields(raw json.RawMessage) (eventID uint64, runID string, payload json.RawMessage, err error) {
	var ev struct {
		EventID uint64          `json:"event_id"`
		RunID   string          `json:"run_id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return 0, "", nil, fmt.Errorf("parse event: %w", err)
	}
	if ev.EventID == 0 {
		return 0, "", nil, fmt.Errorf("event has no event_id")
	}
	if ev.RunID == "" {
		return 0, "", nil, fmt.Errorf("event has no run_id")
	}
	return ev.EventID, ev.RunID, ev.Payload, nil
}

// maybeOpenEnvelope decrypts the payload if it is an envelope. Returns
// false when the payload is plaintext.
func maybeOpenEnvelope(payload json.RawMessage, recipientPriv []byte, eventID uint64, runID string) (bool, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Alg != EnvelopeAlg {
		return false, nil
	}
	if _, err := env.Open(recipientPriv, AAD(eventID, runID)); err != nil {
		return false, err
	}
	return true, nil
}
