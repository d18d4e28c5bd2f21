// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	AgentURL        string
	AgentToken      string
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	SSEKeepalive    time.Duration
	ToolOutputLimit int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/agentview.db"),
		AgentURL:        getEnv("AGENT_URL", "http://localhost:8000/api/agent/stream"),
		AgentToken:      getEnv("AGENT_TOKEN", ""),
		ConnectTimeout:  getEnvDuration("AGENT_CONNECT_TIMEOUT", 10*time.Second),
		RequestTimeout:  getEnvDuration("AGENT_REQUEST_TIMEOUT", 5*time.Minute),
		SSEKeepalive:    getEnvDuration("SSE_KEEPALIVE", 15*time.Second),
		ToolOutputLimit: getEnvInt("TOOL_OUTPUT_LIMIT", 500),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AgentURL == "" {
		return fmt.Errorf("AGENT_URL cannot be empty")
	}
	if !strings.HasPrefix(c.AgentURL, "http://") && !strings.HasPrefix(c.AgentURL, "https://") {
		return fmt.Errorf("AGENT_URL must be an http(s) URL, got %q", c.AgentURL)
	}
	if c.ToolOutputLimit <= 0 {
		return fmt.Errorf("TOOL_OUTPUT_LIMIT must be > 0")
	}
	if c.SSEKeepalive <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
