package main

import (
	"encoding/json"
	"io"

	"backend-tripweave/internal/session"
	"backend-tripweave/internal/syncq"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the session's unsaved changes",
	Long: `Reads the durable sync log and prints the pending, stalled and failed
entries as JSON. Nothing is delivered.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver pending changes once and exit",
	Long: `Delivers every eligible entry of the sync log to the configured remote and
prints the drain report. Entries waiting out a backoff, stalled entries and
anything behind them in the same day stay queued.`,
	Args: cobra.NoArgs,
	RunE: runDrain,
}

type drainOutput struct {
	Report syncq.Report  `json:"report"`
	Status syncq.Summary `json:"status"`
}

func closedGate() bool { return false }

func runStatus(cmd *cobra.Command, _ []string) error {
	rt, err := buildRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	q, err := syncq.Open(cmd.Context(), rt.kv, session.LogKey(cfg.SessionID), nil,
		syncq.WithGate(closedGate), syncq.WithLogger(logger))
	if err != nil {
		return err
	}
	defer q.Close()

	return writeJSON(cmd.OutOrStdout(), q.Status())
}

func runDrain(cmd *cobra.Command, _ []string) error {
	rt, err := buildRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := append(queueOptions(cfg, logger), syncq.WithGate(closedGate))
	q, err := syncq.Open(cmd.Context(), rt.kv, session.LogKey(cfg.SessionID), syncq.NewDispatcher(rt.adapter), opts...)
	if err != nil {
		return err
	}
	defer q.Close()

	report, err := q.Drain(cmd.Context())
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), drainOutput{Report: report, Status: q.Status()})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
