// Package protocol decodes the agent's streaming wire protocol: a text
// stream framed as blocks separated by a blank line, each block carrying an
// optional "event:" line and one or more "data:" lines holding JSON.
package protocol

import (
	"encoding/json"
)

// EventType enumerates the recognized frame types. Dispatch on this closed
// set instead of raw strings so a new frame type is a compile-visible
// constant, not a stray string branch.
type EventType string

const (
	// EventMessage is the default type for frames without an event line.
	EventMessage EventType = "message"
	// EventStatus carries a progress update keyed by a stable stage id.
	EventStatus EventType = "status"
	// EventAgentText carries incremental assistant output to append.
	EventAgentText EventType = "agent_text"
	// EventAgentEvent carries tool call lifecycle events.
	EventAgentEvent EventType = "agent_event"
	// EventDone is the terminal success frame.
	EventDone EventType = "done"
	// EventError is the terminal failure frame.
	EventError EventType = "error"
)

// Frame is one decoded unit of the stream: an event type plus a JSON payload.
// Frames are transient; they live only for the duration of one run.
type Frame struct {
	Event   EventType
	Payload map[string]any

	// data is the payload as valid JSON. When the wire fragment was not
	// valid JSON it holds {"text": <raw fragment>} instead.
	data []byte
}

// Data returns the payload bytes, always valid JSON.
func (f *Frame) Data() []byte {
	return f.data
}

// Terminal reports whether the frame settles the run.
func (f *Frame) Terminal() bool {
	return f.Event == EventDone || f.Event == EventError
}

// StatusPayload is the payload of an EventStatus frame. Stage doubles as a
// stable key for idempotent progress-label updates.
type StatusPayload struct {
	Stage   string         `json:"stage"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// TextPayload is the payload of an EventAgentText frame.
type TextPayload struct {
	Text string `json:"text"`
}

// Tool event names carried by EventAgentEvent frames.
const (
	ToolUseEvent    = "tool_use"
	ToolResultEvent = "tool_result"
)

// SourceRef is a cited document as it appears on the wire.
type SourceRef struct {
	DocID string `json:"docId,omitempty"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ToolEventData is the body of a tool lifecycle event. A tool_use event
// populates Tool and Input; the matching tool_result (same CallID) populates
// Output and Sources.
type ToolEventData struct {
	CallID  string         `json:"callId"`
	Tool    string         `json:"tool,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
	Output  any            `json:"output,omitempty"`
	Sources []SourceRef    `json:"sources,omitempty"`
}

// AgentEventPayload is the payload of an EventAgentEvent frame.
type AgentEventPayload struct {
	Name string        `json:"name"`
	Data ToolEventData `json:"data"`
}

// ServerToolCall is one tool call as reported in a terminal frame's trace
// snapshot. Unlike the incremental events it is already merged server-side.
type ServerToolCall struct {
	CallID  string         `json:"callId"`
	Tool    string         `json:"tool,omitempty"`
	Query   string         `json:"query,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
	Sources []SourceRef    `json:"sources,omitempty"`
	Output  any            `json:"output,omitempty"`
}

// ServerTrace is the authoritative trace snapshot a done frame may carry.
type ServerTrace struct {
	QueryAnalysis map[string]any   `json:"queryAnalysis,omitempty"`
	ToolCalls     []ServerToolCall `json:"toolCalls,omitempty"`
}

// DoneMeta holds optional run metadata on the done frame.
type DoneMeta struct {
	ServerMs int64 `json:"server_ms,omitempty"`
}

// DonePayload is the payload of an EventDone frame. Output carries the
// authoritative final text when nothing streamed incrementally.
type DonePayload struct {
	Output         string       `json:"output"`
	SessionID      string       `json:"sessionId,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	InteractionID  string       `json:"interactionId,omitempty"`
	Trace          *ServerTrace `json:"trace,omitempty"`
	Sources        []SourceRef  `json:"sources,omitempty"`
	Meta           *DoneMeta    `json:"meta,omitempty"`
}

// ErrNotFoundCode is the server error code that maps to a dedicated
// user-facing state instead of the generic error banner.
const ErrNotFoundCode = "resource not found"

// ErrorPayload is the payload of an EventError frame.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Status decodes the frame payload as a status update.
func (f *Frame) Status() (StatusPayload, error) {
	var p StatusPayload
	err := json.Unmarshal(f.data, &p)
	return p, err
}

// Text decodes the frame payload as incremental assistant text.
func (f *Frame) Text() (TextPayload, error) {
	var p TextPayload
	err := json.Unmarshal(f.data, &p)
	return p, err
}

// AgentEvent decodes the frame payload as a tool lifecycle event.
func (f *Frame) AgentEvent() (AgentEventPayload, error) {
	var p AgentEventPayload
	err := json.Unmarshal(f.data, &p)
	return p, err
}

// Done decodes the frame payload as the terminal success payload.
func (f *Frame) Done() (DonePayload, error) {
	var p DonePayload
	err := json.Unmarshal(f.data, &p)
	return p, err
}

// Error decodes the frame payload as the terminal failure payload.
func (f *Frame) Error() (ErrorPayload, error) {
	var p ErrorPayload
	err := json.Unmarshal(f.data, &p)
	return p, err
}
