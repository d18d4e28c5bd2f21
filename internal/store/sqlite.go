package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/agentview/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // Serializes session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		messages_json TEXT NOT NULL,
		run_in_progress INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves the persisted session for a conversation.
func (s *SQLiteStore) GetSession(ctx context.Context, conversationID string) (*domain.PersistedSession, error) {
	query := `
		SELECT conversation_id, session_id, messages_json, run_in_progress, updated_at
		FROM conversations WHERE conversation_id = ?`

	row := s.db.QueryRowContext(ctx, query, conversationID)

	session, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return session, nil
}

// SaveSession creates or replaces the persisted session.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	query := `
		INSERT INTO conversations (conversation_id, session_id, messages_json, run_in_progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			session_id = excluded.session_id,
			messages_json = excluded.messages_json,
			run_in_progress = excluded.run_in_progress,
			updated_at = excluded.updated_at`

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx, query,
		session.ConversationID, session.SessionID, string(messages),
		boolToInt(session.RunInProgress), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// DeleteSession removes all persisted state for a conversation.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteSession(ctx context.Context, conversationID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteSessionOnce(ctx, conversationID)
		if err == nil {
			return nil
		}

		if isConflict(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i)
				slog.Debug("DeleteSession hit SQLITE_BUSY, retrying",
					"conversation_id", conversationID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		return fmt.Errorf("delete session for %s after %d attempts: %w", conversationID, maxRetries, err)
	}

	return nil
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ListSessions returns every persisted session, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.PersistedSession, error) {
	query := `
		SELECT conversation_id, session_id, messages_json, run_in_progress, updated_at
		FROM conversations ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var sessions []*domain.PersistedSession
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return sessions, nil
}

// UpdateInteraction stamps the external interaction id onto a stored message.
func (s *SQLiteStore) UpdateInteraction(ctx context.Context, conversationID, messageID, interactionID string) error {
	session, err := s.GetSession(ctx, conversationID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	found := false
	for i := range session.Messages {
		if session.Messages[i].ID == messageID {
			session.Messages[i].InteractionID = interactionID
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("message %s not found in conversation %s", messageID, conversationID)
	}
	return s.SaveSession(ctx, session)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func scanSession(scan func(dest ...any) error) (*domain.PersistedSession, error) {
	var session domain.PersistedSession
	var messagesJSON string
	var runInProgress int
	var updatedAt int64

	if err := scan(
		&session.ConversationID, &session.SessionID, &messagesJSON,
		&runInProgress, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messagesJSON), &session.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	session.RunInProgress = runInProgress != 0
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isConflict reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}
