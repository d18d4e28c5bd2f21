package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/agentview/internal/agentapi"
	"github.com/ashureev/agentview/internal/config"
	"github.com/ashureev/agentview/internal/session"
	"github.com/ashureev/agentview/internal/store"
	"github.com/spf13/cobra"
)

var conversationID string

var rootCmd = &cobra.Command{
	Use:   "agentview",
	Short: "Converse with a remote AI agent and watch its reasoning unfold",
	Long: `agentview turns the agent's streaming wire protocol into a live,
resumable view of a conversation: incremental text, progress stages and the
trace of every tool call. Conversations persist across restarts; a run
interrupted mid-stream is repaired on the next start.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&conversationID, "conversation", "default",
		"Conversation to attach to")
}

// openSession wires up the store, repairs leftover state and restores the
// conversation. The returned cleanup closes the store.
func openSession(ctx context.Context, cfg *config.Config) (*session.Session, store.Repository, func(), error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	cleanup := func() {
		if err := repo.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}

	if _, err := session.Repair(ctx, repo, conversationID, nil); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("repair session: %w", err)
	}

	client := agentapi.NewClient(agentapi.ClientConfig{
		URL:            cfg.AgentURL,
		Token:          cfg.AgentToken,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
	}, nil)

	sess := session.New(conversationID, client, repo, session.Options{
		OutputLimit: cfg.ToolOutputLimit,
	})
	if err := sess.Load(ctx); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return sess, repo, cleanup, nil
}
