package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/DreamPipe/internal/config"
	"github.com/BTreeMap/DreamPipe/internal/flow"
	"github.com/BTreeMap/DreamPipe/internal/models"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset a user's dialogue session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print a user's session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, sm *flow.SessionManager) error {
			s, err := sm.Load(ctx, args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), s)
		})
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Delete a user's session, including the request counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, sm *flow.SessionManager) error {
			if _, err := sm.Reset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session for %s reset\n", args[0])
			return nil
		})
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Manage interpretation quotas",
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Zero a user's request counter and keep the rest of the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, sm *flow.SessionManager) error {
			s, err := sm.ResetQuota(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "quota for %s reset (state %s)\n", args[0], s.State)
			return nil
		})
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	quotaCmd.AddCommand(quotaResetCmd)
}

// withSessions opens the configured store for one admin operation.
func withSessions(cmd *cobra.Command, fn func(ctx context.Context, sm *flow.SessionManager) error) error {
	cfg := config.LoadEnv()
	applyLogFlags(cfg)
	// stdout carries the command output.
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()
	return fn(ctx, flow.NewSessionManager(sessions))
}

func printSession(w io.Writer, s models.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
