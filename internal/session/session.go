// Package session drives one agent run through its lifecycle: it opens the
// stream, routes frames to the trace accumulator and the message list, and
// settles into a terminal state. It also repairs state left behind by a run
// that never settled.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentview/internal/agentapi"
	"github.com/ashureev/agentview/internal/domain"
	"github.com/ashureev/agentview/internal/protocol"
	"github.com/ashureev/agentview/internal/store"
	"github.com/ashureev/agentview/internal/trace"
	"github.com/google/uuid"
)

// State enumerates the run lifecycle.
type State string

const (
	// StateIdle means no run is in flight.
	StateIdle State = "idle"
	// StateAnalyzing covers the pre-step window between submitting a turn
	// and the first frame from the agent.
	StateAnalyzing State = "analyzing"
	// StateRunning means status frames are arriving but no assistant text yet.
	StateRunning State = "running"
	// StateStreaming means at least one text frame has been received.
	StateStreaming State = "streaming"
	// StateDone is terminal success.
	StateDone State = "done"
	// StateError is terminal failure, with any partial content preserved.
	StateError State = "error"
	// StateAborted is deliberate cancellation. Never reported as an error
	// to the user.
	StateAborted State = "aborted"
)

var (
	// ErrAborted is returned by Start when the run was cancelled, either by
	// Abort or by a newer run taking over.
	ErrAborted = errors.New("run aborted")
	// ErrNotFound is returned when the server reports the dedicated
	// not-found error code.
	ErrNotFound = errors.New("resource not found")
	// ErrRunFailed wraps every other terminal failure.
	ErrRunFailed = errors.New("agent run failed")
)

// Stage is one entry of the linear progress indicator shown before text
// starts streaming. ID is the stable key; repeated status frames for the
// same ID update Label in place.
type Stage struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Update is a point-in-time view of the run handed to the observer after
// every mutation. Fields other than State are populated only when they
// changed or became final.
type Update struct {
	State   State
	Stages  []Stage
	Text    string
	Message *domain.ChatMessage
	Err     error
}

// UpdateFunc observes run progress. It is called outside the session lock
// and must not call back into the session.
type UpdateFunc func(Update)

// Streamer opens one frame stream per chat turn.
type Streamer interface {
	Chat(ctx context.Context, req agentapi.ChatRequest) iter.Seq2[*protocol.Frame, error]
}

// Options configures a Session.
type Options struct {
	Logger      *slog.Logger
	OutputLimit int
	SessionID   string
}

// Session owns the state of one conversation: the message list, the
// progress stages and the trace of the in-flight run. At most one run is
// live at a time; starting a new one cancels the previous run first.
type Session struct {
	conversationID string
	streamer       Streamer
	repo           store.Repository
	logger         *slog.Logger
	outputLimit    int

	mu        sync.Mutex
	sessionID string
	state     State
	messages  []domain.ChatMessage
	stages    []Stage
	acc       *trace.Accumulator
	runSeq    uint64
	activeRun uint64
	cancelRun context.CancelFunc
	startedAt time.Time
}

// New creates a session for one conversation. repo may be nil for ephemeral
// sessions that never checkpoint.
func New(conversationID string, streamer Streamer, repo store.Repository, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conversationID: conversationID,
		streamer:       streamer,
		repo:           repo,
		logger:         logger,
		outputLimit:    opts.OutputLimit,
		sessionID:      opts.SessionID,
		state:          StateIdle,
	}
}

// Load restores the message list from the store. Call it after Repair and
// before the first run.
func (s *Session) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	persisted, err := s.repo.GetSession(ctx, s.conversationID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if persisted == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = persisted.Messages
	if persisted.SessionID != "" {
		s.sessionID = persisted.SessionID
	}
	return nil
}

// Start submits one user turn and blocks until the run settles. Any run
// already in flight is cancelled first. On success it returns the frozen
// assistant message; a cancelled run returns ErrAborted.
func (s *Session) Start(ctx context.Context, text string, onUpdate UpdateFunc) (*domain.ChatMessage, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
		// The cancelled run's settle path is now a stale reader and will
		// skip its own cleanup, so discard its empty placeholder here
		// before the new exchange is appended.
		if msg := s.assistantMessage(); msg != nil && msg.Content == "" {
			s.messages = s.messages[:len(s.messages)-1]
		}
	}
	s.runSeq++
	runID := s.runSeq
	s.activeRun = runID
	s.cancelRun = cancel
	s.state = StateAnalyzing
	s.stages = nil
	s.acc = trace.NewAccumulator(s.outputLimit, s.logger)
	s.startedAt = time.Now()
	now := time.Now()
	s.messages = append(s.messages,
		domain.ChatMessage{ID: uuid.NewString(), Role: domain.RoleUser, Content: text, CreatedAt: now},
		domain.ChatMessage{ID: uuid.NewString(), Role: domain.RoleAssistant, CreatedAt: now},
	)
	sessionID := s.sessionID
	s.mu.Unlock()

	s.checkpoint(ctx, true)
	emit(onUpdate, Update{State: StateAnalyzing})

	req := agentapi.ChatRequest{
		Message:        text,
		SessionID:      sessionID,
		ConversationID: s.conversationID,
	}
	return s.run(ctx, runCtx, runID, req, onUpdate)
}

// run consumes the frame stream for one turn. Every mutation is gated on
// runID still being the active run, because cancellation does not stop a
// stale reader from delivering buffered frames.
func (s *Session) run(ctx, runCtx context.Context, runID uint64, req agentapi.ChatRequest, onUpdate UpdateFunc) (*domain.ChatMessage, error) {
	for frame, err := range s.streamer.Chat(runCtx, req) {
		if err != nil {
			return s.settleTransport(ctx, runID, err, onUpdate)
		}

		switch frame.Event {
		case protocol.EventStatus:
			payload, err := frame.Status()
			if err != nil {
				s.logger.Warn("undecodable status frame", "error", err)
				continue
			}
			s.handleStatus(runID, payload, onUpdate)

		case protocol.EventAgentText:
			payload, err := frame.Text()
			if err != nil {
				s.logger.Warn("undecodable text frame", "error", err)
				continue
			}
			s.handleText(runID, payload.Text, onUpdate)

		case protocol.EventAgentEvent:
			payload, err := frame.AgentEvent()
			if err != nil {
				s.logger.Warn("undecodable tool event frame", "error", err)
				continue
			}
			s.handleToolEvent(runID, payload)

		case protocol.EventDone:
			payload, err := frame.Done()
			if err != nil {
				return s.settleTransport(ctx, runID, fmt.Errorf("undecodable done frame: %w", err), onUpdate)
			}
			return s.settleDone(ctx, runID, payload, onUpdate)

		case protocol.EventError:
			payload, err := frame.Error()
			if err != nil {
				return s.settleTransport(ctx, runID, fmt.Errorf("undecodable error frame: %w", err), onUpdate)
			}
			return s.settleError(ctx, runID, payload, onUpdate)

		default:
			s.logger.Debug("ignoring frame", "event", frame.Event)
		}
	}

	// Stream ended without a terminal frame.
	return s.settleTransport(ctx, runID, fmt.Errorf("stream ended before terminal frame"), onUpdate)
}

func (s *Session) handleStatus(runID uint64, payload protocol.StatusPayload, onUpdate UpdateFunc) {
	var update Update
	ok := s.withRun(runID, func() {
		if s.state == StateAnalyzing {
			s.state = StateRunning
		}
		s.upsertStage(payload.Stage, payload.Message)
		s.routeStageData(payload)
		update = Update{State: s.state, Stages: append([]Stage(nil), s.stages...)}
	})
	if ok {
		emit(onUpdate, update)
	}
}

// upsertStage keeps the progress list ordered by first appearance; a
// repeated stage id updates the label in place instead of duplicating.
func (s *Session) upsertStage(id, label string) {
	if id == "" {
		return
	}
	for i := range s.stages {
		if s.stages[i].ID == id {
			s.stages[i].Label = label
			return
		}
	}
	s.stages = append(s.stages, Stage{ID: id, Label: label})
}

// routeStageData picks up pre-step metadata that arrives on status frames.
func (s *Session) routeStageData(payload protocol.StatusPayload) {
	if payload.Data == nil {
		return
	}
	switch payload.Stage {
	case "analysis", "query_analysis":
		s.acc.SetQueryAnalysis(payload.Data)
	case "attachments":
		total, _ := payload.Data["total"].(float64)
		parsed, _ := payload.Data["parsed"].(float64)
		s.acc.SetAttachments(int(total), int(parsed))
	}
}

func (s *Session) handleText(runID uint64, text string, onUpdate UpdateFunc) {
	var update Update
	ok := s.withRun(runID, func() {
		msg := s.assistantMessage()
		if msg == nil {
			return
		}
		s.state = StateStreaming
		msg.Content += text
		update = Update{State: StateStreaming, Text: msg.Content}
	})
	if ok {
		emit(onUpdate, update)
	}
}

func (s *Session) handleToolEvent(runID uint64, payload protocol.AgentEventPayload) {
	s.withRun(runID, func() {
		s.acc.Record(payload)
	})
}

func (s *Session) settleDone(ctx context.Context, runID uint64, payload protocol.DonePayload, onUpdate UpdateFunc) (*domain.ChatMessage, error) {
	var frozen domain.ChatMessage
	ok := s.withRun(runID, func() {
		msg := s.assistantMessage()
		if msg.Content == "" {
			// Nothing streamed; the terminal frame carries the full text.
			msg.Content = payload.Output
		}
		s.acc.MergeFinal(payload.Trace)
		msg.Trace = s.acc.Export()
		msg.Sources = mergedSources(payload.Sources, msg.Trace)
		msg.InteractionID = payload.InteractionID
		msg.Timing = domain.Timing{
			StartedAt: s.startedAt,
			TotalMs:   time.Since(s.startedAt).Milliseconds(),
		}
		if payload.Meta != nil {
			msg.Timing.ServerMs = payload.Meta.ServerMs
		}
		if payload.SessionID != "" {
			s.sessionID = payload.SessionID
		}
		s.state = StateDone
		s.activeRun = 0
		s.cancelRun = nil
		frozen = *msg
	})
	if !ok {
		return nil, ErrAborted
	}

	s.checkpoint(ctx, false)
	emit(onUpdate, Update{State: StateDone, Text: frozen.Content, Message: &frozen})
	return &frozen, nil
}

func (s *Session) settleError(ctx context.Context, runID uint64, payload protocol.ErrorPayload, onUpdate UpdateFunc) (*domain.ChatMessage, error) {
	err := fmt.Errorf("%w: %s", ErrRunFailed, payload.Message)
	if payload.Code == protocol.ErrNotFoundCode {
		err = fmt.Errorf("%w: %s", ErrNotFound, payload.Message)
	}

	ok := s.withRun(runID, func() {
		// Partial content and trace stay visible; the run just stops here.
		if msg := s.assistantMessage(); msg != nil {
			msg.Trace = s.acc.Export()
		}
		s.state = StateError
		s.activeRun = 0
		s.cancelRun = nil
	})
	if !ok {
		return nil, ErrAborted
	}

	s.checkpoint(ctx, false)
	emit(onUpdate, Update{State: StateError, Err: err})
	return nil, err
}

// settleTransport classifies a stream-level failure. A failure caused by
// cancellation settles as Aborted, never as an error.
func (s *Session) settleTransport(ctx context.Context, runID uint64, cause error, onUpdate UpdateFunc) (*domain.ChatMessage, error) {
	if errors.Is(cause, context.Canceled) {
		return s.settleAborted(ctx, runID, onUpdate)
	}

	err := fmt.Errorf("%w: %v", ErrRunFailed, cause)
	ok := s.withRun(runID, func() {
		if msg := s.assistantMessage(); msg != nil {
			msg.Trace = s.acc.Export()
		}
		s.state = StateError
		s.activeRun = 0
		s.cancelRun = nil
	})
	if !ok {
		return nil, ErrAborted
	}

	s.checkpoint(ctx, false)
	emit(onUpdate, Update{State: StateError, Err: err})
	return nil, err
}

func (s *Session) settleAborted(ctx context.Context, runID uint64, onUpdate UpdateFunc) (*domain.ChatMessage, error) {
	ok := s.withRun(runID, func() {
		// An aborted run that produced no content leaves no trace in the
		// conversation; partial content is kept.
		if msg := s.assistantMessage(); msg != nil && msg.Content == "" {
			s.messages = s.messages[:len(s.messages)-1]
		}
		s.state = StateAborted
		s.activeRun = 0
		s.cancelRun = nil
	})
	if ok {
		s.checkpoint(ctx, false)
		emit(onUpdate, Update{State: StateAborted})
	}
	return nil, ErrAborted
}

// Abort cancels the active run. It is idempotent and a no-op when nothing
// is in flight.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Clear aborts any active run and erases the conversation, both in memory
// and in the store.
func (s *Session) Clear(ctx context.Context) error {
	s.Abort()

	s.mu.Lock()
	s.activeRun = 0
	s.cancelRun = nil
	s.messages = nil
	s.stages = nil
	s.state = StateIdle
	s.sessionID = ""
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}
	if err := s.repo.DeleteSession(ctx, s.conversationID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// State returns the current run state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the agent-assigned session id, empty before the first
// settled run.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Stages returns a copy of the progress indicator for the current run.
func (s *Session) Stages() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Stage(nil), s.stages...)
}

// withRun runs fn under the lock only if runID is still the active run.
// Frames delivered by a stale reader after an abort or takeover fail the
// check and mutate nothing.
func (s *Session) withRun(runID uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID != s.activeRun {
		return false
	}
	fn()
	return true
}

// assistantMessage returns the trailing assistant message of the current
// exchange, nil if the conversation does not end with one.
func (s *Session) assistantMessage() *domain.ChatMessage {
	if len(s.messages) == 0 {
		return nil
	}
	msg := &s.messages[len(s.messages)-1]
	if msg.Role != domain.RoleAssistant {
		return nil
	}
	return msg
}

// checkpoint persists the conversation with the run-in-progress flag. It
// survives a cancelled run context so the abort checkpoint still lands.
func (s *Session) checkpoint(ctx context.Context, inProgress bool) {
	if s.repo == nil {
		return
	}

	s.mu.Lock()
	snapshot := &domain.PersistedSession{
		SessionID:      s.sessionID,
		ConversationID: s.conversationID,
		Messages:       make([]domain.ChatMessage, len(s.messages)),
		RunInProgress:  inProgress,
	}
	copy(snapshot.Messages, s.messages)
	s.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.SaveSession(saveCtx, snapshot); err != nil {
		s.logger.Warn("checkpoint failed",
			"conversation_id", s.conversationID,
			"run_in_progress", inProgress,
			"error", err)
	}
}

func emit(onUpdate UpdateFunc, update Update) {
	if onUpdate != nil {
		onUpdate(update)
	}
}

// mergedSources unions the terminal frame's sources with everything the
// trace saw, unique by URL in first-seen order.
func mergedSources(refs []protocol.SourceRef, tr *domain.AgentTrace) []domain.Source {
	var out []domain.Source
	seen := make(map[string]struct{})
	add := func(src domain.Source) {
		if _, ok := seen[src.URL]; ok {
			return
		}
		seen[src.URL] = struct{}{}
		out = append(out, src)
	}
	for _, r := range refs {
		add(domain.Source{DocID: r.DocID, URL: r.URL, Title: r.Title})
	}
	if tr != nil {
		for _, src := range tr.AllSources() {
			add(src)
		}
	}
	return out
}
