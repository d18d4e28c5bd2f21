// Package domain holds the value types shared across the streaming engine.
package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message submitted by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the agent.
	RoleAssistant Role = "assistant"
)

// Source is one document the agent cited while answering.
// Sources are unique by URL within a message or tool call.
type Source struct {
	DocID string `json:"doc_id,omitempty"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Timing records how long a run took, split into what the server reported
// and what the client observed end to end.
type Timing struct {
	StartedAt time.Time `json:"started_at,omitzero"`
	ServerMs  int64     `json:"server_ms,omitempty"`
	TotalMs   int64     `json:"total_ms,omitempty"`
}

// ChatMessage is one entry in a conversation. Assistant messages are created
// empty and mutated by streaming appends; once the run settles they are
// treated as immutable.
type ChatMessage struct {
	ID            string      `json:"id"`
	Role          Role        `json:"role"`
	Content       string      `json:"content"`
	Sources       []Source    `json:"sources,omitempty"`
	Trace         *AgentTrace `json:"trace,omitempty"`
	Timing        Timing      `json:"timing,omitzero"`
	InteractionID string      `json:"interaction_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
