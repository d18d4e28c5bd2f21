package domain

import (
	"time"
)

// PersistedSession is the durable snapshot of one conversation. It is written
// by the session engine at defined checkpoints (run start, settlement, abort)
// and read exactly once at startup by the recovery controller.
//
// Invariant: RunInProgress is set to true when a run starts and cleared only
// on settlement or abort. Finding it true at startup is proof the previous
// process died mid-run.
type PersistedSession struct {
	SessionID      string        `json:"session_id"`
	ConversationID string        `json:"conversation_id"`
	Messages       []ChatMessage `json:"messages"`
	RunInProgress  bool          `json:"run_in_progress"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// LastMessage returns the most recent message, or nil for an empty
// conversation.
func (s *PersistedSession) LastMessage() *ChatMessage {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}
