// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clog provides leveled logging for the campuschat client.
//
// Log output goes to stderr so it never interleaves with the TUI on stdout.
package clog

import (
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents the logging verbosity level.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var (
	mu     sync.Mutex
	level  = LevelInfo
	logger = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLevel sets the global log level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetLevelName sets the level from its string form ("error", "warn",
// "info", "debug"). Unknown names leave the level unchanged.
func SetLevelName(name string) {
	switch strings.ToLower(name) {
	case "error":
		SetLevel(LevelError)
	case "warn", "warning":
		SetLevel(LevelWarn)
	case "info":
		SetLevel(LevelInfo)
	case "debug":
		SetLevel(LevelDebug)
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(l *log.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func enabled(l Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return level >= l
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...interface{}) {
	if enabled(LevelError) {
		logger.Printf("[ERROR] "+format, args...)
	}
}

// Warnf logs at WARN level.
func Warnf(format string, args ...interface{}) {
	if enabled(LevelWarn) {
		logger.Printf("[WARN] "+format, args...)
	}
}

// Infof logs at INFO level.
func Infof(format string, args ...interface{}) {
	if enabled(LevelInfo) {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...interface{}) {
	if enabled(LevelDebug) {
		logger.Printf("[DEBUG] "+format, args...)
	}
}
