// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for campuschat.
//
// Supports both TOML and JSON configuration formats, with built-in
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.campuschat/config.toml
//   - ~/.campuschat/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/campuschat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete campuschat configuration.
type Config struct {
	// General settings
	Version  string `toml:"version" json:"version"`
	LogLevel string `toml:"log_level" json:"log_level"`

	// Chat backend configuration
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Identity provider configuration
	Auth AuthConfig `toml:"auth" json:"auth"`

	// Session configuration
	Sessions SessionsConfig `toml:"sessions" json:"sessions"`
}

// ChatConfig configures the streaming chat backend connection.
type ChatConfig struct {
	// WSEndpoint is the websocket URL of the chat backend.
	WSEndpoint string `toml:"ws_endpoint" json:"ws_endpoint"`
	// Model is the model identifier sent with every dispatch.
	Model string `toml:"model" json:"model"`
	// PrioritizeInstructor prefers instructor answers in retrieval.
	PrioritizeInstructor bool `toml:"prioritize_instructor" json:"prioritize_instructor"`
	// RequestTimeoutSecs is the watchdog window: a request with no sign of
	// life for this long is failed with a timeout message.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
	// ConnectTimeoutSecs bounds connection establishment.
	ConnectTimeoutSecs int `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
	// DispatchRatePerMin limits how many dispatches a single session may
	// issue per minute (0 = unlimited).
	DispatchRatePerMin int `toml:"dispatch_rate_per_min" json:"dispatch_rate_per_min"`
}

// AuthConfig configures the external identity provider.
type AuthConfig struct {
	// TokenEndpoint issues fresh bearer tokens, one per fetch.
	TokenEndpoint string `toml:"token_endpoint" json:"token_endpoint"`
}

// SessionsConfig configures tab management and persistence.
type SessionsConfig struct {
	// MaxSessions caps the number of open tabs.
	MaxSessions int `toml:"max_sessions" json:"max_sessions"`
	// StorePath is the sqlite database path (empty = default
	// ~/.campuschat/sessions.db).
	StorePath string `toml:"store_path" json:"store_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Version:  "1",
		LogLevel: "info",
		Chat: ChatConfig{
			WSEndpoint:           "wss://chat.campuschat.dev/prod",
			Model:                "gpt-5",
			PrioritizeInstructor: false,
			RequestTimeoutSecs:   20,
			ConnectTimeoutSecs:   10,
			DispatchRatePerMin:   30,
		},
		Auth: AuthConfig{
			TokenEndpoint: "https://auth.campuschat.dev/token",
		},
		Sessions: SessionsConfig{
			MaxSessions: 10,
		},
	}
}

// Dir returns the configuration directory (~/.campuschat).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".campuschat"), nil
}

// DefaultStorePath returns the default sqlite database path.
func DefaultStorePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration from the default locations, applies
// environment overrides, and validates the result.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom reads the configuration from a specific directory. A missing
// file is not an error: defaults apply.
func LoadFrom(dir string) (*Config, error) {
	cfg := Default()

	tomlPath := filepath.Join(dir, "config.toml")
	jsonPath := filepath.Join(dir, "config.json")

	if data, err := os.ReadFile(tomlPath); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tomlPath, err)
		}
	} else if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", jsonPath, err)
		}
	}

	cfg.applyEnv()
	cfg.validate()
	return cfg, nil
}

// Save writes the configuration to dir/config.toml. The write is atomic so
// a crash mid-save cannot leave a truncated config behind.
func Save(cfg *Config, dir string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(filepath.Join(dir, "config.toml"), data, 0o644)
}

// Exists reports whether a config file is present in dir.
func Exists(dir string) bool {
	for _, name := range []string{"config.toml", "config.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// applyEnv applies CAMPUSCHAT_* environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("CAMPUSCHAT_WS_ENDPOINT"); v != "" {
		c.Chat.WSEndpoint = v
	}
	if v := os.Getenv("CAMPUSCHAT_TOKEN_ENDPOINT"); v != "" {
		c.Auth.TokenEndpoint = v
	}
	if v := os.Getenv("CAMPUSCHAT_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("CAMPUSCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CAMPUSCHAT_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sessions.MaxSessions = n
		}
	}
	if v := os.Getenv("CAMPUSCHAT_REQUEST_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chat.RequestTimeoutSecs = n
		}
	}
	if v := os.Getenv("CAMPUSCHAT_PRIORITIZE_INSTRUCTOR"); v != "" {
		c.Chat.PrioritizeInstructor = strings.EqualFold(v, "true") || v == "1"
	}
}

// validate clamps out-of-range values to sane bounds rather than failing.
func (c *Config) validate() {
	if c.Sessions.MaxSessions < 1 {
		c.Sessions.MaxSessions = 1
	}
	if c.Sessions.MaxSessions > 50 {
		c.Sessions.MaxSessions = 50
	}
	if c.Chat.RequestTimeoutSecs < 5 {
		c.Chat.RequestTimeoutSecs = 5
	}
	if c.Chat.RequestTimeoutSecs > 300 {
		c.Chat.RequestTimeoutSecs = 300
	}
	if c.Chat.ConnectTimeoutSecs < 2 {
		c.Chat.ConnectTimeoutSecs = 2
	}
	if c.Chat.ConnectTimeoutSecs > 120 {
		c.Chat.ConnectTimeoutSecs = 120
	}
	if c.Chat.DispatchRatePerMin < 0 {
		c.Chat.DispatchRatePerMin = 0
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "gpt-5"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
