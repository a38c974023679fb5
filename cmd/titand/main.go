// Package main implements the titand CLI - the titan messaging fabric
// daemon and its operator tooling.
//
// # File Index
//
// Entry Point & Global State:
//   - main.go        - Entry point, rootCmd, global flags, logger init
//
// Commands:
//   - cmd_run.go     - runCmd: connect, reconcile topology, serve the
//     policy responder and DLQ monitor
//   - cmd_config.go  - configCmd: history, rollback, diff, export/import
//   - cmd_subjects.go - subjectsCmd: validate and migrate subject strings
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"titanfabric/internal/logging"
)

var (
	// Global flags
	verbose   bool
	natsURL   string
	configDir string
	envTag    string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "titand",
	Short: "titand - messaging and coordination fabric for the titan trading platform",
	Long: `titand runs the titan messaging fabric: the subject catalog, stream
topology, signed envelopes, the PREPARE/CONFIRM/ABORT signal protocol, the
policy-hash handshake and the hierarchical configuration manager.

It assumes a stream-capable subject broker (NATS JetStream) reachable via
TITAN_NATS_URL; it does not perform market analysis or order routing itself.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.SetRoot(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "", "broker URL (defaults to TITAN_NATS_URL)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "configuration directory root")
	rootCmd.PersistentFlags().StringVar(&envTag, "env", "", "environment overlay (defaults to TITAN_ENV)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(subjectsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
