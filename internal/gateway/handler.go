// Package gateway exposes the session engine to a local UI over HTTP: a
// chat endpoint that re-emits the run as SSE, abort and history endpoints,
// and a websocket feed of state snapshots.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/agentview/internal/session"
	"github.com/ashureev/agentview/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize caps chat request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the gateway API for one conversation session.
type Handler struct {
	sess      *session.Session
	repo      store.Repository
	keepalive time.Duration
	logger    *slog.Logger

	mu          sync.Mutex
	subscribers map[int64]chan session.Update
	subSeq      int64
}

// NewHandler creates a gateway handler around a session. repo may be nil
// when running without persistence; history endpoints then serve from
// memory only.
func NewHandler(sess *session.Session, repo store.Repository, keepalive time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &Handler{
		sess:        sess,
		repo:        repo,
		keepalive:   keepalive,
		logger:      logger,
		subscribers: make(map[int64]chan session.Update),
	}
}

// RegisterRoutes registers the gateway API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/abort", h.HandleAbort)
		r.Get("/history", h.HandleHistory)
		r.Delete("/history", h.HandleClearHistory)
		r.Get("/health", h.HandleHealth)
	})
	r.Get("/ws/updates", h.HandleUpdates)
}

// ChatRequest is the gateway chat request body.
type ChatRequest struct {
	Message string `json:"message"`
}

// HandleChat runs one turn and streams the engine's view of it back as SSE.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("chat request", "message_length", len(req.Message))

	// The run happens in its own goroutine so this loop can interleave
	// keepalive pings with updates during long agent silences.
	updates := make(chan session.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.sess.Start(r.Context(), req.Message, func(u session.Update) {
			h.broadcast(u)
			select {
			case updates <- u:
			case <-r.Context().Done():
			}
		})
	}()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Navigating away aborts the run, matching the recovery
			// contract: the checkpoint flag is cleared by the settle path.
			h.sess.Abort()
			<-done
			return
		case <-done:
			// Drain anything emitted after the last select pass.
			for {
				select {
				case u := <-updates:
					if !h.writeUpdate(w, flusher, u) {
						return
					}
				default:
					return
				}
			}
		case u := <-updates:
			if !h.writeUpdate(w, flusher, u) {
				return
			}
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeUpdate re-emits one engine update as an SSE event. Returns false
// when the client is gone.
func (h *Handler) writeUpdate(w http.ResponseWriter, flusher http.Flusher, u session.Update) bool {
	event, data, err := encodeUpdate(u)
	if err != nil {
		h.logger.Warn("failed to encode update", "error", err)
		return true
	}
	if err := writeSSE(w, event, data); err != nil {
		h.logger.Warn("failed to write SSE event", "event", event, "error", err)
		return false
	}
	flusher.Flush()
	return true
}

// encodeUpdate maps an engine update onto the downstream event vocabulary.
func encodeUpdate(u session.Update) (event, data string, err error) {
	switch u.State {
	case session.StateDone:
		enc, err := json.Marshal(map[string]any{"message": u.Message})
		return "done", string(enc), err
	case session.StateError:
		msg := "run failed"
		if u.Err != nil {
			msg = u.Err.Error()
		}
		code := ""
		if errors.Is(u.Err, session.ErrNotFound) {
			code = "resource not found"
		}
		enc, err := json.Marshal(map[string]any{"message": msg, "code": code})
		return "error", string(enc), err
	case session.StateAborted:
		return "aborted", `{}`, nil
	case session.StateStreaming:
		enc, err := json.Marshal(map[string]any{"text": u.Text})
		return "agent_text", string(enc), err
	default:
		enc, err := json.Marshal(map[string]any{"state": u.State, "stages": u.Stages})
		return "status", string(enc), err
	}
}

// HandleAbort cancels the active run. Idempotent when nothing is running.
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	h.sess.Abort()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborted"})
}

// HandleHistory returns the conversation's message list.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": h.sess.SessionID(),
		"messages":   h.sess.Messages(),
	})
}

// HandleClearHistory aborts any active run and erases the conversation.
func (h *Handler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear history", "error", err)
		http.Error(w, `{"error": "failed to clear history"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// broadcast fans an update out to every websocket subscriber. Slow
// subscribers drop updates instead of stalling the run.
func (h *Handler) broadcast(u session.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

func (h *Handler) subscribe() (int64, chan session.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subSeq++
	id := h.subSeq
	ch := make(chan session.Update, 32)
	h.subscribers[id] = ch
	return id, ch
}

func (h *Handler) unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", "error", err)
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
