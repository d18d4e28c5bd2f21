// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/agentview/internal/domain"
)

// Repository defines the interface for persisting conversation sessions.
// Sessions are written by the session engine at run checkpoints and read
// once at startup by the recovery controller; there is never more than one
// writer per conversation.
type Repository interface {
	// GetSession retrieves the persisted session for a conversation.
	// Returns nil without error when no session exists.
	GetSession(ctx context.Context, conversationID string) (*domain.PersistedSession, error)

	// SaveSession creates or replaces the persisted session, including the
	// run-in-progress flag.
	SaveSession(ctx context.Context, session *domain.PersistedSession) error

	// DeleteSession removes all persisted state for a conversation.
	DeleteSession(ctx context.Context, conversationID string) error

	// ListSessions returns every persisted session, most recently updated
	// first.
	ListSessions(ctx context.Context) ([]*domain.PersistedSession, error)

	// UpdateInteraction stamps the external interaction id onto a stored
	// message so the feedback collaborator can reference it.
	UpdateInteraction(ctx context.Context, conversationID, messageID, interactionID string) error

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
