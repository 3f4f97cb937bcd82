// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/campuschat/internal/clog"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher re-reads the configuration when the file changes on disk and
// hands the fresh Config to a callback. Editors often fire several events
// per save, so changes are debounced.
type Watcher struct {
	dir      string
	onChange func(*Config)
	debounce time.Duration

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending bool
	closed  chan struct{}
}

// NewWatcher creates a watcher for the given config directory.
func NewWatcher(dir string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
		watcher:  fw,
		closed:   make(chan struct{}),
	}, nil
}

// Watch starts watching. Returns immediately; events are processed on a
// background goroutine.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	go w.processEvents()
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.closed)
	return w.watcher.Close()
}

// processEvents handles fsnotify events until closed.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.closed:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			clog.Warnf("config watcher: %v", err)
		}
	}
}

// scheduleReload debounces a burst of events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	if w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = true
	w.mu.Unlock()

	time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.pending = false
		w.mu.Unlock()

		select {
		case <-w.closed:
			return
		default:
		}

		cfg, err := LoadFrom(w.dir)
		if err != nil {
			clog.Warnf("config reload failed: %v", err)
			return
		}
		w.onChange(cfg)
	})
}

// isConfigFile reports whether the path is one of the config file names.
func isConfigFile(path string) bool {
	base := filepath.Base(path)
	return strings.EqualFold(base, "config.toml") || strings.EqualFold(base, "config.json")
}
