package gateway

import (
	"context"
	"net/http"
	"time"
)

// HandleHealth reports gateway health and the state of its dependencies.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			h.logger.Error("health check failed", "error", err)
			checks["store"] = "unreachable"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"status": status,
		"state":  h.sess.State(),
		"checks": checks,
	})
}
