// Package trace incrementally merges partial tool-call events into a
// deduplicated, queryable trace of one agent run.
package trace

import (
	"encoding/json"
	"log/slog"
	"unicode/utf8"

	"github.com/ashureev/agentview/internal/domain"
	"github.com/ashureev/agentview/internal/protocol"
)

// DefaultOutputLimit is the truncation threshold for tool outputs rendered
// as text. It is a presentation choice, not a protocol guarantee, so it is
// configurable per accumulator.
const DefaultOutputLimit = 500

// truncationMarker is appended to outputs cut at the limit.
const truncationMarker = "…"

// Partial is one increment of knowledge about a tool call. Zero-valued
// fields are "not supplied" and never overwrite what an earlier event set.
type Partial struct {
	Tool    string
	Query   string
	Filters map[string]any
	Sources []domain.Source
	Output  any
}

// Accumulator owns the trace of the in-flight run. It is not safe for
// concurrent use; the session engine mutates it only from frame-handling
// code on one goroutine.
type Accumulator struct {
	calls         map[string]*domain.ToolCall
	order         []string
	queryAnalysis *domain.QueryAnalysis
	attachments   *domain.AttachmentsSummary
	outputLimit   int
	logger        *slog.Logger
}

// NewAccumulator creates an empty accumulator. outputLimit <= 0 selects
// DefaultOutputLimit.
func NewAccumulator(outputLimit int, logger *slog.Logger) *Accumulator {
	if outputLimit <= 0 {
		outputLimit = DefaultOutputLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		calls:       make(map[string]*domain.ToolCall),
		outputLimit: outputLimit,
		logger:      logger,
	}
}

// Upsert merges a partial update into the call identified by callID,
// creating it on first sight. Only fields present in the update are
// overwritten; sources merge by URL uniqueness in first-seen order. The
// operation is idempotent, and the final state is independent of whether
// tool_use or tool_result arrived first.
func (a *Accumulator) Upsert(callID string, p Partial) {
	if callID == "" {
		a.logger.Warn("tool event without callId dropped")
		return
	}
	call, ok := a.calls[callID]
	if !ok {
		call = &domain.ToolCall{CallID: callID}
		a.calls[callID] = call
		a.order = append(a.order, callID)
	}

	if p.Tool != "" {
		call.Tool = p.Tool
	}
	if p.Query != "" {
		call.Query = p.Query
	}
	if p.Filters != nil {
		call.Filters = p.Filters
	}
	if p.Output != nil {
		call.Output = p.Output
	}
	call.Sources = mergeSources(call.Sources, p.Sources)
}

// Record routes a decoded tool lifecycle event into the accumulator.
func (a *Accumulator) Record(ev protocol.AgentEventPayload) {
	p := Partial{
		Tool:    ev.Data.Tool,
		Output:  ev.Data.Output,
		Sources: convertSources(ev.Data.Sources),
	}
	if q, ok := ev.Data.Input["query"].(string); ok {
		p.Query = q
	}
	if f, ok := ev.Data.Input["filters"].(map[string]any); ok {
		p.Filters = f
	}
	a.Upsert(ev.Data.CallID, p)
}

// SetQueryAnalysis attaches the optional pre-step metadata.
func (a *Accumulator) SetQueryAnalysis(data map[string]any) {
	a.queryAnalysis = &domain.QueryAnalysis{Performed: true, Data: data}
}

// SetAttachments attaches the attachment counters for the run.
func (a *Accumulator) SetAttachments(total, parsed int) {
	a.attachments = &domain.AttachmentsSummary{Total: total, Parsed: parsed}
}

// MergeFinal folds a server-supplied trace snapshot into the accumulated
// state using the same upsert-by-callId rule. Client-observed and
// server-reported sources union by URL.
func (a *Accumulator) MergeFinal(final *protocol.ServerTrace) {
	if final == nil {
		return
	}
	if final.QueryAnalysis != nil {
		a.SetQueryAnalysis(final.QueryAnalysis)
	}
	for _, call := range final.ToolCalls {
		a.Upsert(call.CallID, Partial{
			Tool:    call.Tool,
			Query:   call.Query,
			Filters: call.Filters,
			Sources: convertSources(call.Sources),
			Output:  call.Output,
		})
	}
}

// Export freezes the accumulated state into an AgentTrace: calls in
// first-seen order, outputs normalized for display. The accumulator itself
// is left untouched, so a late server snapshot can still be merged and
// re-exported.
func (a *Accumulator) Export() *domain.AgentTrace {
	if len(a.order) == 0 && a.queryAnalysis == nil && a.attachments == nil {
		return nil
	}
	out := &domain.AgentTrace{
		QueryAnalysis: a.queryAnalysis,
		Attachments:   a.attachments,
	}
	for _, id := range a.order {
		call := a.calls[id]
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			CallID:  call.CallID,
			Tool:    call.Tool,
			Query:   call.Query,
			Filters: call.Filters,
			Sources: append([]domain.Source(nil), call.Sources...),
			Output:  a.normalizeOutput(call.Output),
		})
	}
	return out
}

// Queries returns the query of every call that has one, in first-seen order.
func (a *Accumulator) Queries() []string {
	var out []string
	for _, id := range a.order {
		if q := a.calls[id].Query; q != "" {
			out = append(out, q)
		}
	}
	return out
}

// normalizeOutput prepares a tool output for display. Tabular outputs
// (parallel columns/rows arrays) keep their structure; everything else is
// flattened to text and truncated at the configured limit.
func (a *Accumulator) normalizeOutput(output any) any {
	if output == nil {
		return nil
	}
	if tab, ok := tabularOutput(output); ok {
		return tab
	}

	text, ok := output.(string)
	if !ok {
		enc, err := json.Marshal(output)
		if err != nil {
			a.logger.Warn("tool output not serializable", "error", err)
			return nil
		}
		text = string(enc)
	}
	// The limit counts characters, not bytes; never cut mid-rune.
	if utf8.RuneCountInString(text) > a.outputLimit {
		runes := []rune(text)
		text = string(runes[:a.outputLimit]) + truncationMarker
	}
	return text
}

// tabularOutput detects an object carrying parallel columns and rows arrays.
func tabularOutput(output any) (map[string]any, bool) {
	obj, ok := output.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := obj["columns"].([]any); !ok {
		return nil, false
	}
	if _, ok := obj["rows"].([]any); !ok {
		return nil, false
	}
	return obj, true
}

// mergeSources unions two source lists by URL, keeping first-seen order.
func mergeSources(existing, incoming []domain.Source) []domain.Source {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s.URL] = struct{}{}
	}
	for _, s := range incoming {
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		existing = append(existing, s)
	}
	return existing
}

func convertSources(refs []protocol.SourceRef) []domain.Source {
	if len(refs) == 0 {
		return nil
	}
	out := make([]domain.Source, 0, len(refs))
	for _, r := range refs {
		out = append(out, domain.Source{DocID: r.DocID, URL: r.URL, Title: r.Title})
	}
	return out
}
