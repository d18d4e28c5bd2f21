package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.ToolOutputLimit != 500 {
		t.Errorf("ToolOutputLimit = %d", cfg.ToolOutputLimit)
	}
	if cfg.SSEKeepalive != 15*time.Second {
		t.Errorf("SSEKeepalive = %v", cfg.SSEKeepalive)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENT_URL", "https://agent.internal/stream")
	t.Setenv("TOOL_OUTPUT_LIMIT", "64")
	t.Setenv("AGENT_REQUEST_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AgentURL != "https://agent.internal/stream" {
		t.Errorf("AgentURL = %q", cfg.AgentURL)
	}
	if cfg.ToolOutputLimit != 64 {
		t.Errorf("ToolOutputLimit = %d", cfg.ToolOutputLimit)
	}
	if cfg.RequestTimeout != 90*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty agent url", func(c *Config) { c.AgentURL = "" }, true},
		{"non-http agent url", func(c *Config) { c.AgentURL = "grpc://x" }, true},
		{"zero output limit", func(c *Config) { c.ToolOutputLimit = 0 }, true},
		{"zero keepalive", func(c *Config) { c.SSEKeepalive = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Port:            "8080",
				AgentURL:        "http://localhost:8000/api/agent/stream",
				ToolOutputLimit: 500,
				SSEKeepalive:    15 * time.Second,
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("TOOL_OUTPUT_LIMIT", "lots")
	t.Setenv("SSE_KEEPALIVE", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ToolOutputLimit != 500 {
		t.Errorf("ToolOutputLimit = %d, want default", cfg.ToolOutputLimit)
	}
	if cfg.SSEKeepalive != 15*time.Second {
		t.Errorf("SSEKeepalive = %v, want default", cfg.SSEKeepalive)
	}
}
