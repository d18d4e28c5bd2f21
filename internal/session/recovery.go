package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/agentview/internal/domain"
	"github.com/ashureev/agentview/internal/store"
)

// Repair inspects persisted state for a conversation and repairs whatever a
// prior unclean shutdown left behind. It must run once at startup, before
// anything reads the store. The repair is silent: an interrupted run is a
// fact of life, not an error to surface.
//
// The run-in-progress flag is only ever cleared by a settled or aborted run,
// so finding it set here means the previous process died mid-stream. The
// trailing exchange is then kept, trimmed, or the whole conversation dropped
// depending on how far the interrupted run got.
func Repair(ctx context.Context, repo store.Repository, conversationID string, logger *slog.Logger) (*domain.PersistedSession, error) {
	if logger == nil {
		logger = slog.Default()
	}

	persisted, err := repo.GetSession(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("read persisted session: %w", err)
	}
	if persisted == nil {
		return nil, nil
	}
	if !persisted.RunInProgress {
		return persisted, nil
	}

	last := persisted.LastMessage()
	if last != nil && last.Role == domain.RoleAssistant && last.Content != "" {
		// The run got far enough to be worth keeping; only the flag is stale.
		logger.Info("recovered interrupted run, keeping streamed content",
			"conversation_id", conversationID)
		persisted.RunInProgress = false
		if err := repo.SaveSession(ctx, persisted); err != nil {
			return nil, fmt.Errorf("clear run flag: %w", err)
		}
		return persisted, nil
	}

	// The trailing exchange never produced content: drop the empty assistant
	// placeholder and the user message that started it.
	trimmed := persisted.Messages
	if last != nil && last.Role == domain.RoleAssistant {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if n := len(trimmed); n > 0 && trimmed[n-1].Role == domain.RoleUser {
		trimmed = trimmed[:n-1]
	}

	if len(trimmed) == 0 {
		// Nothing worth keeping; do not leave an empty shell behind.
		logger.Info("recovered interrupted run, dropping empty conversation",
			"conversation_id", conversationID)
		if err := repo.DeleteSession(ctx, conversationID); err != nil {
			return nil, fmt.Errorf("drop empty conversation: %w", err)
		}
		return nil, nil
	}

	logger.Info("recovered interrupted run, dropping incomplete exchange",
		"conversation_id", conversationID,
		"kept_messages", len(trimmed))
	persisted.Messages = trimmed
	persisted.RunInProgress = false
	if err := repo.SaveSession(ctx, persisted); err != nil {
		return nil, fmt.Errorf("save repaired session: %w", err)
	}
	return persisted, nil
}
