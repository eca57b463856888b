// Package runtime implements the AICCA server lifecycle: configuration,
// HTTP/websocket surface, and component wiring.
package runtime

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aicca-ai/aicca/internal/mcp"
	"github.com/aicca-ai/aicca/internal/storage"
	"github.com/aicca-ai/aicca/internal/tools"
)

// ModelConfig selects and parameterizes the backing model.
type ModelConfig struct {
	Provider    string   `yaml:"provider"` // "anthropic" or "openai"
	Name        string   `yaml:"name"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	APIKeyEnv   string   `yaml:"api_key_env,omitempty"`
	System      string   `yaml:"system,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	TokenBudget int      `yaml:"token_budget,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// SessionConfig bounds websocket sessions.
type SessionConfig struct {
	ChatMaxTurns     int `yaml:"chat_max_turns,omitempty"`
	AnalysisMaxTurns int `yaml:"analysis_max_turns,omitempty"`
	MaxMessages      int `yaml:"history_max_messages,omitempty"`
}

// StorageConfig selects the artifact store backend.
type StorageConfig struct {
	Backend        string           `yaml:"backend"` // "local" or "s3"
	LocalDir       string           `yaml:"local_dir,omitempty"`
	S3             storage.S3Config `yaml:"s3,omitempty"`
	RetainArtifact time.Duration    `yaml:"retain_artifacts,omitempty"`
	SweepSchedule  string           `yaml:"sweep_schedule,omitempty"`
	UploadMaxAge   time.Duration    `yaml:"upload_max_age,omitempty"`
}

// ToolsConfig configures tool sources and execution policy.
type ToolsConfig struct {
	HTTP           map[string]tools.HTTPConfig `yaml:"http,omitempty"`
	Allowlist      []tools.Rule                `yaml:"allowlist,omitempty"`
	MCPServers     []mcp.ServerConfig          `yaml:"mcp_servers,omitempty"`
	AsyncMax       int64                       `yaml:"async_max_concurrent,omitempty"`
	AsyncTimeout   time.Duration               `yaml:"async_timeout,omitempty"`
	ExecutionLimit time.Duration               `yaml:"execution_timeout,omitempty"`
}

// Config is the full server configuration.
type Config struct {
	Listen   string        `yaml:"listen,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty"`
	LogLevel string        `yaml:"log_level,omitempty"`
	AuditDSN string        `yaml:"audit_dsn,omitempty"`
	Model    ModelConfig   `yaml:"model"`
	Session  SessionConfig `yaml:"session,omitempty"`
	Storage  StorageConfig `yaml:"storage,omitempty"`
	Tools    ToolsConfig   `yaml:"tools,omitempty"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "anthropic"
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 4096
	}
	if c.Session.ChatMaxTurns == 0 {
		c.Session.ChatMaxTurns = 100
	}
	if c.Session.AnalysisMaxTurns == 0 {
		c.Session.AnalysisMaxTurns = 10
	}
	if c.Session.MaxMessages == 0 {
		c.Session.MaxMessages = 50
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "data/uploads"
	}
	if c.Storage.SweepSchedule == "" {
		c.Storage.SweepSchedule = "@every 1h"
	}
	if c.Storage.RetainArtifact == 0 {
		c.Storage.RetainArtifact = 24 * time.Hour
	}
	if c.Storage.UploadMaxAge == 0 {
		c.Storage.UploadMaxAge = time.Hour
	}
	if c.Tools.AsyncMax == 0 {
		c.Tools.AsyncMax = 4
	}
	if c.Tools.AsyncTimeout == 0 {
		c.Tools.AsyncTimeout = 5 * time.Minute
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("config: model.name is required")
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if err := c.Storage.S3.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	for name, hc := range c.Tools.HTTP {
		if hc.URL == "" {
			return fmt.Errorf("config: http tool %q missing url", name)
		}
	}
	return nil
}

// WatchConfig re-reads the file on change and hands the tool allowlist to
// apply. Only the allowlist hot-reloads; everything else needs a restart.
// Returns a stop function.
func WatchConfig(path string, apply func([]tools.Rule) error, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					logger.Warn("ignoring config change", "path", path, "error", err)
					continue
				}
				if err := apply(cfg.Tools.Allowlist); err != nil {
					logger.Warn("allowlist reload failed", "error", err)
					continue
				}
				logger.Info("allowlist reloaded", "rules", len(cfg.Tools.Allowlist))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
