package main

import (
	"time"

	"backend-tripweave/internal/auth"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a device token for the backend API",
	Long: `Signs a bearer token with JWT_SECRET so this device can write to the backend.
Set the printed access_token as REMOTE_TOKEN.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (defaults to device-<session>)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
}

func runToken(cmd *cobra.Command, _ []string) error {
	subject := tokenSubject
	if subject == "" {
		subject = "device-" + cfg.SessionID
	}
	token, err := auth.NewService(cfg.JWTSecret).IssueToken(subject, tokenTTL)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), token)
}
