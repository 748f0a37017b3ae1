package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpsentinel/sentinel/internal/audit"
	"github.com/mcpsentinel/sentinel/internal/dashboard"
	"github.com/mcpsentinel/sentinel/internal/event"
	"github.com/mcpsentinel/sentinel/internal/supervisor"
)

var (
	runAuditLog           string
	runSigningKeyPath     string
	runRecipientPubPath   string
	runWSBind             string
	runWSToken            string
	runRedactConfig       string
	runCheckpointEvery    int
	runCheckpointInterval int
	runShutdownDeadline   int
	runPanicLog           string
	runQueueDepth         int
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runAuditLog, "audit-log", "", "Path to the append-only audit log (absent disables the sink)")
	runCmd.Flags().StringVar(&runSigningKeyPath, "signing-key-b64-path", "", "Ed25519 signing private key (base-64 text file)")
	runCmd.Flags().StringVar(&runRecipientPubPath, "encrypt-recipient-pubkey-b64-path", "", "X25519 recipient public key; enables payload encryption")
	runCmd.Flags().StringVar(&runWSBind, "ws-bind", dashboard.DefaultBind, "Bind address for the HTTP/WebSocket server")
	runCmd.Flags().StringVar(&runWSToken, "ws-token", "", "Dashboard auth token (falls back to SENTINEL_WS_TOKEN)")
	runCmd.Flags().StringVar(&runRedactConfig, "redact-config", "", "YAML file with extra redaction keys and patterns (hot-reloaded)")
	runCmd.Flags().IntVar(&runCheckpointEvery, "checkpoint-every", audit.DefaultCheckpointEvery, "Events between signed checkpoints")
	runCmd.Flags().IntVar(&runCheckpointInterval, "checkpoint-interval-ms", int(audit.DefaultCheckpointInterval/time.Millisecond), "Milliseconds between signed checkpoints")
	runCmd.Flags().IntVar(&runShutdownDeadline, "shutdown-deadline-ms", int(supervisor.DefaultShutdownDeadline/time.Millisecond), "Drain deadline at shutdown")
	runCmd.Flags().StringVar(&runPanicLog, "panic-log", supervisor.DefaultPanicLog, "File observation-side panics are appended to")
	runCmd.Flags().IntVar(&runQueueDepth, "observation-queue", event.DefaultQueueDepth, "Observation channel depth")
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <child command> [args...]",
	Short: "Run an MCP server behind the sidecar",
	Long: "Spawns the child command, forwards stdio bytes unmodified, and observes the\n" +
		"JSON-RPC traffic into the audit log and the dashboard stream.\n" +
		"Everything after -- is the child command line.",
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	token := runWSToken
	if token == "" {
		token = os.Getenv("SENTINEL_WS_TOKEN")
	}

	exitCode, err := supervisor.Run(supervisor.Config{
		ChildArgv:          args,
		AuditLogPath:       runAuditLog,
		SigningKeyPath:     runSigningKeyPath,
		RecipientPubPath:   runRecipientPubPath,
		WSBind:             runWSBind,
		WSToken:            token,
		RedactConfigPath:   runRedactConfig,
		CheckpointEvery:    runCheckpointEvery,
		CheckpointInterval: time.Duration(runCheckpointInterval) * time.Millisecond,
		ShutdownDeadline:   time.Duration(runShutdownDeadline) * time.Millisecond,
		PanicLogPath:       runPanicLog,
		QueueDepth:         runQueueDepth,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	logger.Sync()
	os.Exit(exitCode)
	return nil
}
