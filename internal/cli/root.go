// Package cli wires the sentinel command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Transparent audit sidecar for the Model Context Protocol",
	Long: "Launches an MCP server as a child process, forwards all stdio bytes unmodified,\n" +
		"and emits a signed, hash-chained audit log plus a real-time dashboard stream\n" +
		"of the observed JSON-RPC traffic.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the operator logger. Everything goes to stderr:
// stdout belongs to the data path.
func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
