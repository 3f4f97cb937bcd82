// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"strings"
	"sync"

	"github.com/jeranaias/campuschat/internal/model"
	"github.com/jeranaias/campuschat/internal/registry"
)

// =============================================================================
// INTERPRETER
// =============================================================================

// Interpreter folds inbound frames into the owning session's message state.
// One accumulation buffer exists per session; frames for different sessions
// never touch each other's buffers or messages.
type Interpreter struct {
	reg *registry.Registry

	mu sync.Mutex
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	buffers map[string]*strings.Builder
}

// NewInterpreter creates an interpreter writing into the given registry.
func NewInterpreter(reg *registry.Registry) *Interpreter {
	return &Interpreter{
		reg:     reg,
		buffers: make(map[string]*strings.Builder),
	}
}

// buffer returns the session's accumulation buffer, creating it on first
// use. A chunk arriving before any start therefore sees an empty buffer.
func (in *Interpreter) buffer(sessionID string) *strings.Builder {
	in.mu.Lock()
	defer in.mu.Unlock()
	b, ok := in.buffers[sessionID]
	if !ok {
		b = &strings.Builder{}
		in.buffers[sessionID] = b
	}
	return b
}

// DropSession discards the session's buffer, on tab close.
func (in *Interpreter) DropSession(sessionID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.buffers, sessionID)
}

// Apply folds one frame into the target assistant message. Returns done
// when the frame completed the request. Mutations of already-finalized
// messages are silently ignored by the registry, so a late frame after
// completion or timeout is a no-op here.
func (in *Interpreter) Apply(sessionID string, messageID int64, f *Frame) (done bool) {
	switch f.Type {
	case FrameStart:
		buf := in.buffer(sessionID)
		buf.Reset()
		in.reg.MutateMessage(sessionID, messageID, func(m *model.Message) {
			m.Text = ""
		})

	case FrameChunk:
		buf := in.buffer(sessionID)
		buf.WriteString(f.Message)
		text := buf.String()
		in.reg.MutateMessage(sessionID, messageID, func(m *model.Message) {
			m.Text = text
			m.IsLoading = false
		})

	case FrameProgress:
		// Status text replaces, never appends; the buffer keeps any real
		// content accumulated so far.
		in.reg.MutateMessage(sessionID, messageID, func(m *model.Message) {
			m.Text = f.Message
			m.IsLoading = false
		})

	case FrameCitations:
		citations := append([]model.Citation(nil), f.Citations...)
		in.reg.MutateMessage(sessionID, messageID, func(m *model.Message) {
			m.Citations = citations
		})

	case FrameDone:
		lowConfidence := f.LowConfidence
		in.reg.MutateMessage(sessionID, messageID, func(m *model.Message) {
			m.LowConfidence = lowConfidence
			m.Finalize()
		})
		in.buffer(sessionID).Reset()
		return true
	}

	return false
}

// Fail converts the in-flight assistant message into a terminal error state
// with the given user-facing text. Used for timeouts, authentication
// failures, and transport errors; recovery is always local to the session.
func (in *Interpreter) Fail(sessionID string, messageID int64, text string) {
	in.reg.MutateMessage(sessionID, messageID, func(m *model.Message) {
		m.Text = text
		m.IsError = true
		m.Finalize()
	})
	in.buffer(sessionID).Reset()
}
