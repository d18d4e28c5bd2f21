package domain

// ToolCall is the reconstructed record of a single tool invocation. It is
// assembled from two wire events ("tool invoked" and "tool result") that are
// correlated by CallID and may arrive in either order.
type ToolCall struct {
	CallID  string         `json:"call_id"`
	Tool    string         `json:"tool,omitempty"`
	Query   string         `json:"query,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
	Sources []Source       `json:"sources,omitempty"`
	Output  any            `json:"output,omitempty"`
}

// QueryAnalysis is the optional pre-step metadata attached to a run when the
// agent classified the query before answering.
type QueryAnalysis struct {
	Performed bool           `json:"performed"`
	Data      map[string]any `json:"data,omitempty"`
}

// AttachmentsSummary counts the attachments the agent was given for a run.
type AttachmentsSummary struct {
	Total  int `json:"total"`
	Parsed int `json:"parsed"`
}

// AgentTrace aggregates everything the agent did to produce one assistant
// response. ToolCalls holds at most one entry per CallID, in first-seen order.
type AgentTrace struct {
	QueryAnalysis *QueryAnalysis      `json:"query_analysis,omitempty"`
	Attachments   *AttachmentsSummary `json:"attachments,omitempty"`
	ToolCalls     []ToolCall          `json:"tool_calls,omitempty"`
}

// AllSources returns the union of sources across all tool calls, unique by
// URL in first-seen order.
func (t *AgentTrace) AllSources() []Source {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []Source
	for _, call := range t.ToolCalls {
		for _, src := range call.Sources {
			if _, ok := seen[src.URL]; ok {
				continue
			}
			seen[src.URL] = struct{}{}
			out = append(out, src)
		}
	}
	return out
}
