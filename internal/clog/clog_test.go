// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package clog

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(log.New(&buf, "", 0))
	t.Cleanup(func() {
		SetOutput(log.New(os.Stderr, "", log.LstdFlags))
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(LevelWarn)

	Errorf("e")
	Warnf("w")
	Infof("i")
	Debugf("d")

	out := buf.String()
	if !strings.Contains(out, "[ERROR] e") || !strings.Contains(out, "[WARN] w") {
		t.Errorf("missing expected lines: %q", out)
	}
	if strings.Contains(out, "[INFO]") || strings.Contains(out, "[DEBUG]") {
		t.Errorf("suppressed levels leaked: %q", out)
	}
}

func TestSetLevelName(t *testing.T) {
	buf := capture(t)

	SetLevelName("debug")
	Debugf("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("debug level not applied")
	}

	// Unknown names leave the level unchanged.
	SetLevelName("chatty")
	Debugf("still visible")
	if !strings.Contains(buf.String(), "still visible") {
		t.Error("unknown level name should not change the level")
	}
}
