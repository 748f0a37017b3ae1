package audit

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/stats"
)

// Checkpoint cadence defaults: whichever of the two fires first wins.
const (
	DefaultCheckpointEvery    = 100
	DefaultCheckpointInterval = 5 * time.Second
)

// SinkConfig configures the audit sink.
type SinkConfig struct {
	Path               string
	SigningKey         ed25519.PrivateKey
	RecipientPub       []byte // nil disables payload encryption
	RunID              string
	CheckpointEvery    int
	CheckpointInterval time.Duration
	Logger             *zap.Logger
	Counters           *stats.Counters
}

// Sink appends hash-chained records to the audit file. It is
// fail-open: a write error degrades the sink permanently and silently
// from the data path's point of view — the error is logged to stderr
// once and further records are dropped.
type Sink struct {
	cfg  SinkConfig
	file *os.File
	w    *bufio.Writer

	mu                  sync.Mutex
	prevHash            string
	lastEventID         uint64
	sinceCheckpoint     int
	checkpointedThrough uint64
	degraded            bool
}

// OpenSink opens (or creates) the audit file for appending. If the
// file already has records, the chain tail is recovered from the last
// event record so the chain continues across runs.
func OpenSink(cfg SinkConfig) (*Sink, error) {
	if cfg.SigningKey == nil {
		return nil, fmt.Errorf("audit: signing key is required when the sink is enabled")
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("audit: create directory: %w", err)
		}
	}

	prevHash, err := recoverChainTail(cfg.Path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Sink{
		cfg:      cfg,
		file:     file,
		w:        bufio.NewWriter(file),
		prevHash: prevHash,
	}, nil
}

// recoverChainTail scans an existing log for the self_hash of its last
// event record. A missing or empty file starts a fresh chain.
func recoverChainTail(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GenesisHash, nil
		}
		return "", fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	tail := GenesisHash
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		var rec struct {
			SelfHash string `json:"self_hash"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.SelfHash != "" {
			tail = rec.SelfHash
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("audit: scan existing log: %w", err)
	}
	return tail, nil
}

// Deliver appends one event record, encrypting the payload when a
// recipient key is configured. Never returns an error and never blocks
// on anything but the file write itself.
func (s *Sink) Deliver(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return
	}

	if s.cfg.RecipientPub != nil {
		plaintext, err := json.Marshal(ev.Payload)
		if err != nil {
			s.degrade(fmt.Errorf("marshal payload: %w", err))
			return
		}
		env, err := Seal(s.cfg.RecipientPub, plaintext, AAD(ev.EventID, ev.RunID))
		if err != nil {
			s.degrade(err)
			return
		}
		ev.Payload = env
	}

	evJSON, err := json.Marshal(ev)
	if err != nil {
		s.degrade(fmt.Errorf("marshal event: %w", err))
		return
	}
	canonical, err := CanonicalJSON(evJSON)
	if err != nil {
		s.degrade(err)
		return
	}
	self := SelfHash(canonical, s.prevHash)

	rec := Record{Event: evJSON, PrevHash: s.prevHash, SelfHash: self}
	if err := s.writeRecord(rec); err != nil {
		s.degrade(err)
		return
	}

	s.prevHash = self
	s.lastEventID = ev.EventID
	s.sinceCheckpoint++
	if s.sinceCheckpoint >= s.cfg.CheckpointEvery {
		if err := s.checkpointLocked(); err != nil {
			s.degrade(err)
		}
	}
}

// RunCheckpointTimer emits time-based checkpoints until ctx is done.
func (s *Sink) RunCheckpointTimer(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.degraded {
				if err := s.checkpointLocked(); err != nil {
					s.degrade(err)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Flush emits a final checkpoint, flushes the buffered writer, and
// fsyncs the file.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return nil
	}
	if err := s.checkpointLocked(); err != nil {
		return err
	}
	return s.syncLocked()
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	if err := s.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// Degraded reports whether the sink gave up after an I/O error.
func (s *Sink) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// checkpointLocked signs the chain tail if anything new was written
// since the last checkpoint, then flushes and fsyncs so the signed
// prefix is durable.
func (s *Sink) checkpointLocked() error {
	if s.lastEventID == 0 || s.lastEventID == s.checkpointedThrough {
		return nil
	}
	cp, err := signCheckpoint(s.cfg.SigningKey, s.prevHash, s.lastEventID)
	if err != nil {
		return err
	}
	if err := s.writeRecord(Record{Checkpoint: cp}); err != nil {
		return err
	}
	if err := s.syncLocked(); err != nil {
		return err
	}
	s.sinceCheckpoint = 0
	s.checkpointedThrough = s.lastEventID
	return nil
}

func (s *Sink) writeRecord(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *Sink) syncLocked() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

func (s *Sink) degrade(err error) {
	s.degraded = true
	if s.cfg.Counters != nil {
		s.cfg.Counters.SinkDegraded.Store(true)
	}
	if s.cfg.Logger != nil {
		s.cfg.Logger.Error("audit sink degraded, further records dropped", zap.Error(err))
	}
}

// AAD is the associated-data string binding an envelope to its record.
func AAD(eventID uint64, runID string) string {
	return fmt.Sprintf("%d:%s", eventID, runID)
}
