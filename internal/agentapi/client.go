// Package agentapi provides the HTTP client for the remote agent's
// streaming endpoint.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/agentview/internal/protocol"
)

var (
	// ErrAgentUnavailable marks transport-level failures before any frame
	// was received.
	ErrAgentUnavailable = errors.New("agent unavailable")
)

// ChatRequest is the payload sent to the agent's streaming endpoint.
type ChatRequest struct {
	Message        string `json:"message"`
	SessionID      string `json:"sessionId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Client talks to the remote agent over HTTP.
type Client struct {
	url    string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// ClientConfig holds configuration for the agent client.
type ClientConfig struct {
	URL            string
	Token          string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// NewClient creates an agent client. The request timeout bounds the whole
// stream, so it must cover the longest expected agent run.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}

	transport := &http.Transport{
		ResponseHeaderTimeout: cfg.ConnectTimeout,
	}
	return &Client{
		url:   cfg.URL,
		token: cfg.Token,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		logger: logger,
	}
}

// Open starts a chat turn and returns the raw response body. The caller
// owns the body and must close it.
func (c *Client) Open(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close agent response body", "error", closeErr)
		}
		c.logger.Error("agent returned non-OK status",
			"status", resp.StatusCode,
			"body", string(body))
		return nil, fmt.Errorf("%w: status %d", ErrAgentUnavailable, resp.StatusCode)
	}

	return resp.Body, nil
}

// Chat opens a turn and decodes it into frames. The stream ends after the
// terminal frame or on the first decode error.
func (c *Client) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*protocol.Frame, error] {
	return func(yield func(*protocol.Frame, error) bool) {
		body, err := c.Open(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			if closeErr := body.Close(); closeErr != nil {
				c.logger.Warn("failed to close agent stream", "error", closeErr)
			}
		}()

		for frame, err := range protocol.NewDecoder().Decode(ctx, body) {
			if !yield(frame, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}
