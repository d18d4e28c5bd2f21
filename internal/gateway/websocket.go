package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/agentview/internal/session"
	"github.com/coder/websocket"
)

// snapshot is the state view pushed to websocket clients on every change.
type snapshot struct {
	State  session.State   `json:"state"`
	Stages []session.Stage `json:"stages,omitempty"`
	Text   string          `json:"text,omitempty"`
}

// HandleUpdates streams state-change snapshots over a websocket. The client
// gets the current state immediately, then one snapshot per engine update
// until it disconnects.
func (h *Handler) HandleUpdates(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("websocket close", "error", closeErr)
		}
	}()

	id, updates := h.subscribe()
	defer h.unsubscribe(id)

	h.logger.Info("updates subscriber connected", "subscriber_id", id)

	ctx := r.Context()
	if err := h.writeSnapshot(ctx, ws, snapshot{State: h.sess.State(), Stages: h.sess.Stages()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			snap := snapshot{State: u.State, Stages: u.Stages, Text: u.Text}
			if err := h.writeSnapshot(ctx, ws, snap); err != nil {
				h.logger.Debug("updates subscriber gone", "subscriber_id", id, "error", err)
				return
			}
		}
	}
}

func (h *Handler) writeSnapshot(ctx context.Context, ws *websocket.Conn, snap snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
