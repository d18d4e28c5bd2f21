package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/agentview/internal/domain"
)

// MemoryStore is an in-memory Repository for tests and ephemeral runs where
// no database path is configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.PersistedSession
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.PersistedSession)}
}

func (m *MemoryStore) GetSession(_ context.Context, conversationID string) (*domain.PersistedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[conversationID]
	if !ok {
		return nil, nil
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) SaveSession(_ context.Context, session *domain.PersistedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneSession(session)
	stored.UpdatedAt = time.Now()
	m.sessions[session.ConversationID] = stored
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, conversationID)
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]*domain.PersistedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]*domain.PersistedSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, cloneSession(s))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (m *MemoryStore) UpdateInteraction(_ context.Context, conversationID, messageID, interactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	for i := range session.Messages {
		if session.Messages[i].ID == messageID {
			session.Messages[i].InteractionID = interactionID
			return nil
		}
	}
	return fmt.Errorf("message %s not found in conversation %s", messageID, conversationID)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func cloneSession(s *domain.PersistedSession) *domain.PersistedSession {
	out := *s
	out.Messages = make([]domain.ChatMessage, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}
