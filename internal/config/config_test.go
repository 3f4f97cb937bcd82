// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Chat.Model != "gpt-5" {
		t.Errorf("Model = %q", cfg.Chat.Model)
	}
	if cfg.Chat.RequestTimeoutSecs != 20 {
		t.Errorf("RequestTimeoutSecs = %d", cfg.Chat.RequestTimeoutSecs)
	}
	if cfg.Sessions.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d", cfg.Sessions.MaxSessions)
	}
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Chat.WSEndpoint != Default().Chat.WSEndpoint {
		t.Error("missing config should fall back to defaults")
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	content := `
log_level = "debug"

[chat]
ws_endpoint = "wss://staging.example.test/ws"
request_timeout_secs = 45

[sessions]
max_sessions = 3
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Chat.WSEndpoint != "wss://staging.example.test/ws" {
		t.Errorf("WSEndpoint = %q", cfg.Chat.WSEndpoint)
	}
	if cfg.Chat.RequestTimeoutSecs != 45 {
		t.Errorf("RequestTimeoutSecs = %d", cfg.Chat.RequestTimeoutSecs)
	}
	if cfg.Sessions.MaxSessions != 3 {
		t.Errorf("MaxSessions = %d", cfg.Sessions.MaxSessions)
	}
	// Untouched fields keep defaults.
	if cfg.Chat.Model != "gpt-5" {
		t.Errorf("Model = %q", cfg.Chat.Model)
	}
}

func TestLoadFromJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{"log_level":"warn","chat":{"model":"gpt-5-mini"}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Chat.Model != "gpt-5-mini" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFromBadTOML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("== not toml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(dir); err == nil {
		t.Error("invalid config should fail loudly, not fall back silently")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAMPUSCHAT_WS_ENDPOINT", "wss://override.example.test/ws")
	t.Setenv("CAMPUSCHAT_MAX_SESSIONS", "4")
	t.Setenv("CAMPUSCHAT_PRIORITIZE_INSTRUCTOR", "true")

	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chat.WSEndpoint != "wss://override.example.test/ws" {
		t.Errorf("WSEndpoint = %q", cfg.Chat.WSEndpoint)
	}
	if cfg.Sessions.MaxSessions != 4 {
		t.Errorf("MaxSessions = %d", cfg.Sessions.MaxSessions)
	}
	if !cfg.Chat.PrioritizeInstructor {
		t.Error("PrioritizeInstructor override not applied")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if Exists(dir) {
		t.Fatal("empty dir should have no config")
	}

	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.Sessions.MaxSessions = 7
	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !Exists(dir) {
		t.Error("Exists() should see the saved file")
	}

	loaded, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if loaded.LogLevel != "debug" || loaded.Sessions.MaxSessions != 7 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestValidateClamps(t *testing.T) {
	cfg := Default()
	cfg.Sessions.MaxSessions = 0
	cfg.Chat.RequestTimeoutSecs = 1
	cfg.Chat.ConnectTimeoutSecs = 999
	cfg.Chat.DispatchRatePerMin = -5
	cfg.validate()

	if cfg.Sessions.MaxSessions != 1 {
		t.Errorf("MaxSessions = %d, want clamped to 1", cfg.Sessions.MaxSessions)
	}
	if cfg.Chat.RequestTimeoutSecs != 5 {
		t.Errorf("RequestTimeoutSecs = %d, want clamped to 5", cfg.Chat.RequestTimeoutSecs)
	}
	if cfg.Chat.ConnectTimeoutSecs != 120 {
		t.Errorf("ConnectTimeoutSecs = %d, want clamped to 120", cfg.Chat.ConnectTimeoutSecs)
	}
	if cfg.Chat.DispatchRatePerMin != 0 {
		t.Errorf("DispatchRatePerMin = %d, want clamped to 0", cfg.Chat.DispatchRatePerMin)
	}
}
