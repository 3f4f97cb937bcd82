// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// campuschat is a terminal client for the campus Q&A assistant.
//
// It keeps multiple conversation tabs open at once, streams answers over a
// per-tab websocket connection, and persists the tab set across restarts.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeranaias/campuschat/internal/auth"
	"github.com/jeranaias/campuschat/internal/client"
	"github.com/jeranaias/campuschat/internal/clog"
	"github.com/jeranaias/campuschat/internal/config"
	"github.com/jeranaias/campuschat/internal/storage"
	"github.com/jeranaias/campuschat/internal/ui"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configDir := flag.String("config-dir", "", "override the config directory")
	flag.Parse()

	if *showVersion {
		fmt.Printf("campuschat %s\n", Version)
		return
	}

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "campuschat: %v\n", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	dir := configDir
	var err error
	if dir == "" {
		dir, err = config.Dir()
		if err != nil {
			return err
		}
	}

	// First run: materialize the defaults so there is a file to edit.
	if !config.Exists(dir) {
		if err := config.Save(config.Default(), dir); err != nil {
			clog.Warnf("could not write default config: %v", err)
		}
	}

	cfg, err := config.LoadFrom(dir)
	if err != nil {
		return err
	}
	clog.SetLevelName(cfg.LogLevel)

	storePath := cfg.Sessions.StorePath
	if storePath == "" {
		storePath, err = config.DefaultStorePath()
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	kv, err := storage.OpenSQLite(storePath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer kv.Close()

	c := client.New(client.Options{
		Chat:        cfg.Chat,
		MaxSessions: cfg.Sessions.MaxSessions,
		Credentials: auth.NewHTTPProvider(cfg.Auth.TokenEndpoint),
		Store:       kv,
	})
	c.Start()
	defer c.Stop()

	// Log level follows config edits without a restart. Endpoint or
	// session-limit changes still require one.
	if w, err := config.NewWatcher(dir, func(fresh *config.Config) {
		clog.SetLevelName(fresh.LogLevel)
		clog.Infof("config reloaded, log level %s", fresh.LogLevel)
	}); err == nil {
		if err := w.Watch(); err == nil {
			defer w.Close()
		}
	}

	return ui.Run(c)
}
