package main

import (
	"fmt"
	"os"

	"backend-tripweave/internal/config"
	"backend-tripweave/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose   bool
	sessionID string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "planner",
	Short: "Local-first trip itinerary runtime",
	Long: `planner keeps a trip itinerary on this device and syncs every edit to the
backend in the background.

Edits are applied locally first and recorded in a durable sync log. The log
drains whenever the backend is reachable; failed deliveries are retried with
backoff and surfaced through the sync status.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if sessionID != "" {
			cfg.SessionID = sessionID
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session id (overrides SESSION_ID)")

	rootCmd.AddCommand(serveCmd, statusCmd, drainCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
