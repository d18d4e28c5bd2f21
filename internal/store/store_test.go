package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/agentview/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "agentview.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return repo
}

func sampleSession(conversationID string) *domain.PersistedSession {
	return &domain.PersistedSession{
		ConversationID: conversationID,
		SessionID:      "sess-" + conversationID,
		RunInProgress:  true,
		Messages: []domain.ChatMessage{
			{ID: "m1", Role: domain.RoleUser, Content: "how do I reset my password?"},
			{
				ID:      "m2",
				Role:    domain.RoleAssistant,
				Content: "Open settings and choose reset.",
				Sources: []domain.Source{{DocID: "d1", URL: "https://kb/reset", Title: "Reset guide"}},
				Trace: &domain.AgentTrace{
					ToolCalls: []domain.ToolCall{{CallID: "c1", Tool: "kb_search", Query: "reset password"}},
				},
				Timing: domain.Timing{ServerMs: 812, TotalMs: 1204},
			},
		},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	want := sampleSession("conv-1")
	if err := repo.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := repo.GetSession(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for saved conversation")
	}
	if got.SessionID != want.SessionID || !got.RunInProgress {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	msg := got.Messages[1]
	if msg.Trace == nil || len(msg.Trace.ToolCalls) != 1 || msg.Trace.ToolCalls[0].Tool != "kb_search" {
		t.Errorf("trace not preserved: %+v", msg.Trace)
	}
	if len(msg.Sources) != 1 || msg.Sources[0].URL != "https://kb/reset" {
		t.Errorf("sources not preserved: %+v", msg.Sources)
	}
	if msg.Timing.ServerMs != 812 {
		t.Errorf("timing not preserved: %+v", msg.Timing)
	}
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("GetSession = %+v, want nil", got)
	}
}

func TestSaveSessionUpsertsFlag(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	session := sampleSession("conv-1")
	if err := repo.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	session.RunInProgress = false
	session.Messages = append(session.Messages, domain.ChatMessage{ID: "m3", Role: domain.RoleUser, Content: "thanks"})
	if err := repo.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession (update): %v", err)
	}

	got, err := repo.GetSession(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.RunInProgress {
		t.Error("run flag still set after settle checkpoint")
	}
	if len(got.Messages) != 3 {
		t.Errorf("got %d messages, want 3", len(got.Messages))
	}
}

func TestDeleteSession(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, sampleSession("conv-1")); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := repo.DeleteSession(ctx, "conv-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err := repo.GetSession(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("session survived delete: %+v", got)
	}

	// Deleting a missing conversation is not an error.
	if err := repo.DeleteSession(ctx, "conv-1"); err != nil {
		t.Errorf("DeleteSession (missing): %v", err)
	}
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, sampleSession("conv-old")); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	time.Sleep(1100 * time.Millisecond) // updated_at has second resolution
	if err := repo.SaveSession(ctx, sampleSession("conv-new")); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ConversationID != "conv-new" {
		t.Errorf("order = [%s %s], want conv-new first",
			sessions[0].ConversationID, sessions[1].ConversationID)
	}
}

func TestUpdateInteraction(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, sampleSession("conv-1")); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := repo.UpdateInteraction(ctx, "conv-1", "m2", "int-42"); err != nil {
		t.Fatalf("UpdateInteraction: %v", err)
	}

	got, err := repo.GetSession(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Messages[1].InteractionID != "int-42" {
		t.Errorf("interaction id = %q, want int-42", got.Messages[1].InteractionID)
	}

	if err := repo.UpdateInteraction(ctx, "conv-1", "missing", "x"); err == nil {
		t.Error("expected error for unknown message id")
	}
	if err := repo.UpdateInteraction(ctx, "missing", "m1", "x"); err == nil {
		t.Error("expected error for unknown conversation")
	}
}

func TestMemoryStoreMatchesContract(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	got, err := repo.GetSession(ctx, "none")
	if err != nil || got != nil {
		t.Errorf("GetSession(missing) = (%+v, %v), want (nil, nil)", got, err)
	}

	session := sampleSession("conv-1")
	if err := repo.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	session.Messages[0].Content = "mutated"
	stored, err := repo.GetSession(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Messages[0].Content != "how do I reset my password?" {
		t.Error("store aliases caller's message slice")
	}

	if err := repo.UpdateInteraction(ctx, "conv-1", "m1", "int-1"); err != nil {
		t.Fatalf("UpdateInteraction: %v", err)
	}
	if err := repo.DeleteSession(ctx, "conv-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	sessions, err := repo.ListSessions(ctx)
	if err != nil || len(sessions) != 0 {
		t.Errorf("ListSessions after delete = (%v, %v)", sessions, err)
	}
}
