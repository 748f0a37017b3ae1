// Package supervisor launches the child, wires the observation
// pipeline, and drives the shutdown order: stop accepting dashboards,
// close child stdin, drain the sequencer, flush the audit sink, close
// peers, reap the child.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mcpsentinel/sentinel/internal/audit"
	"github.com/mcpsentinel/sentinel/internal/dashboard"
	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/keys"
	"github.com/mcpsentinel/sentinel/internal/proxy"
	"github.com/mcpsentinel/sentinel/internal/redact"
	"github.com/mcpsentinel/sentinel/internal/sequencer"
	"github.com/mcpsentinel/sentinel/internal/sink"
	"github.com/mcpsentinel/sentinel/internal/stats"
	"github.com/mcpsentinel/sentinel/internal/trace"
)

// DefaultShutdownDeadline bounds the drain after shutdown begins.
const DefaultShutdownDeadline = 10 * time.Second

// Config is everything the run command resolved from flags.
type Config struct {
	ChildArgv []string

	AuditLogPath     string
	SigningKeyPath   string
	RecipientPubPath string

	WSBind  string
	WSToken string

	RedactConfigPath string

	CheckpointEvery    int
	CheckpointInterval time.Duration
	ShutdownDeadline   time.Duration
	PanicLogPath       string
	QueueDepth         int

	Logger *zap.Logger
}

// Run executes one Sentinel lifetime and returns the process exit
// code. Startup errors return a non-nil error instead; once the child
// is running all failures are absorbed per the fail-open contract.
func Run(cfg Config) (int, error) {
	if len(cfg.ChildArgv) == 0 {
		return 0, fmt.Errorf("supervisor: no child command after --")
	}
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = DefaultShutdownDeadline
	}
	logger := cfg.Logger

	runID := trace.NewRunID()
	sessionID := trace.NewSessionID()
	counters := &stats.Counters{}
	logger.Info("sentinel starting",
		zap.String("run_id", runID), zap.String("session_id", sessionID))

	// Redactor, with optional config and live reload.
	redactor := redact.New()
	if cfg.RedactConfigPath != "" {
		rcfg, err := redact.LoadConfig(cfg.RedactConfigPath)
		if err != nil {
			return 0, err
		}
		if err := redactor.SetConfig(rcfg); err != nil {
			return 0, err
		}
	}

	// Keys and audit sink. Crypto failures are fatal here and only here.
	var sinks []sink.Sink
	var auditSink *audit.Sink
	if cfg.AuditLogPath != "" {
		if cfg.SigningKeyPath == "" {
			return 0, fmt.Errorf("supervisor: --audit-log requires --signing-key-b64-path")
		}
		signingKey, err := keys.LoadSigningKey(cfg.SigningKeyPath)
		if err != nil {
			return 0, err
		}
		var recipientPub []byte
		if cfg.RecipientPubPath != "" {
			recipientPub, err = keys.LoadRecipientPub(cfg.RecipientPubPath)
			if err != nil {
				return 0, err
			}
		}
		auditSink, err = audit.OpenSink(audit.SinkConfig{
			Path:               cfg.AuditLogPath,
			SigningKey:         signingKey,
			RecipientPub:       recipientPub,
			RunID:              runID,
			CheckpointEvery:    cfg.CheckpointEvery,
			CheckpointInterval: cfg.CheckpointInterval,
			Logger:             logger,
			Counters:           counters,
		})
		if err != nil {
			return 0, err
		}
		sinks = append(sinks, auditSink)
	}

	// Dashboard server.
	server := dashboard.NewServer(dashboard.Config{
		Bind:     cfg.WSBind,
		Token:    cfg.WSToken,
		Logger:   logger,
		Counters: counters,
	})
	if err := server.Start(); err != nil {
		return 0, fmt.Errorf("supervisor: start dashboard server: %w", err)
	}
	sinks = append(sinks, server.Hub())

	// Observation pipeline.
	queue := event.NewTapQueue(cfg.QueueDepth, counters)
	tracker := trace.NewTracker(sessionID, 0)
	fanout := sink.NewFanout(sinks...)
	seq := sequencer.New(runID, queue, tracker, redactor, fanout, counters, logger)

	obsCtx, obsCancel := context.WithCancel(context.Background())
	defer obsCancel()

	seqDone := make(chan struct{})
	Go("sequencer", cfg.PanicLogPath, logger, func() {
		defer close(seqDone)
		seq.Run(obsCtx)
	})
	if auditSink != nil {
		Go("checkpoint-timer", cfg.PanicLogPath, logger, func() {
			auditSink.RunCheckpointTimer(obsCtx)
		})
	}
	if cfg.RedactConfigPath != "" {
		Go("redact-watcher", cfg.PanicLogPath, logger, func() {
			if err := redactor.Watch(obsCtx, cfg.RedactConfigPath, logger); err != nil {
				logger.Warn("redact config watcher stopped", zap.Error(err))
			}
		})
	}

	// Data path.
	pxy := proxy.New(cfg.ChildArgv, queue, logger)
	if err := pxy.Start(); err != nil {
		return 0, err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interrupted := false
	select {
	case sig := <-sigCh:
		interrupted = sig == syscall.SIGINT
		logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		pxy.SignalChild(sig)
	case <-pxy.Done():
		logger.Info("both stdio directions closed, shutting down")
	}

	deadline := time.Now().Add(cfg.ShutdownDeadline)

	// 1. Stop accepting new dashboard connections.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	server.StopAccepting(stopCtx)
	stopCancel()

	// 2. Close child stdin.
	pxy.CloseChildStdin()

	// 3. Drain the sequencer.
	obsCancel()
	select {
	case <-seqDone:
		seq.Drain(deadline)
	case <-time.After(time.Until(deadline)):
		logger.Warn("sequencer did not stop before the drain deadline")
	}

	// 4. Flush sinks: final checkpoint + fsync.
	if err := fanout.Flush(); err != nil {
		logger.Error("sink flush failed", zap.Error(err))
	}
	if auditSink != nil {
		if err := auditSink.Close(); err != nil {
			logger.Error("audit close failed", zap.Error(err))
		}
	}

	// 5. Close dashboard peers.
	server.ClosePeers()

	// 6. Reap the child.
	exitCode := reapChild(pxy, deadline, logger)

	logger.Info("sentinel exiting",
		zap.Int("exit_code", exitCode),
		zap.Uint64("events_sequenced", counters.EventsSequenced.Load()),
		zap.Uint64("observations_dropped", counters.ObservationsDropped.Load()),
		zap.Int("pending_requests", tracker.PendingCount()))

	if interrupted {
		return 130, nil
	}
	return exitCode, nil
}

// reapChild waits for the child until the deadline, then kills it.
func reapChild(pxy *proxy.Proxy, deadline time.Time, logger *zap.Logger) int {
	codeCh := make(chan int, 1)
	go func() { codeCh <- pxy.WaitChild() }()

	select {
	case code := <-codeCh:
		return code
	case <-time.After(time.Until(deadline)):
		logger.Warn("child did not exit before deadline, killing")
		pxy.SignalChild(syscall.SIGKILL)
		return <-codeCh
	}
}
