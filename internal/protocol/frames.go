// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the wire vocabulary of the chat backend and the
// interpreter that folds inbound frames into session message state.
//
// A request's frames arrive in the order
//
//	chat_start, (chat_chunk|progress_update)*, citations?, chat_done
//
// on the session's own connection. The interpreter tolerates a missing
// citations frame and tolerates chunks arriving before any start by
// treating the accumulation buffer as already empty.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/jeranaias/campuschat/internal/model"
)

// =============================================================================
// FRAME TYPES
// =============================================================================

// Wire discriminators sent by the backend.
const (
	FrameStart     = "chat_start"
	FrameChunk     = "chat_chunk"
	FrameProgress  = "progress_update"
	FrameCitations = "citations"
	FrameDone      = "chat_done"
)

var (
	// ErrMalformedFrame indicates a frame that failed to parse. Malformed
	// frames are logged and dropped; they never crash the interpreter.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownFrameType indicates a frame with an unrecognized
	// discriminator.
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Frame is one decoded inbound unit.
type Frame struct {
	// Type is the wire discriminator.
	Type string `json:"type"`

	// Message carries chunk text, progress status text, or the done text,
	// depending on Type.
	Message string `json:"message,omitempty"`

	// Citations carries the citation batch on a citations frame.
	Citations []model.Citation `json:"citations,omitempty"`

	// LowConfidence flags an under-supported answer on a done frame.
	LowConfidence bool `json:"lowConfidence,omitempty"`
}

// IsLiveness reports whether the frame proves the remote is still working
// on the answer. A start frame is only an acknowledgment and deliberately
// does not count: a server can acknowledge receipt without ever computing a
// response.
func (f *Frame) IsLiveness() bool {
	return f.Type == FrameChunk || f.Type == FrameProgress
}

// DecodeFrame parses one inbound frame. Unknown discriminators and parse
// failures are reported as errors for the caller to log and drop.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case FrameStart, FrameChunk, FrameProgress, FrameCitations, FrameDone:
		return &f, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type)
	}
}

// =============================================================================
// DISPATCH PAYLOAD
// =============================================================================

// DispatchPayload is the outgoing request sent over the connection. The
// schema is owned by the backend; this client constructs it faithfully but
// does not validate its business semantics.
type DispatchPayload struct {
	Action               string `json:"action"`
	Message              string `json:"message"`
	Class                string `json:"class"`
	Model                string `json:"model"`
	PrioritizeInstructor bool   `json:"prioritizeInstructor"`
	Token                string `json:"token"`
}

// NewDispatchPayload builds a chat dispatch. The topic is normalized to its
// wire form; the token must be freshly fetched by the caller.
func NewDispatchPayload(text, topic, modelName string, prioritizeInstructor bool, token string) DispatchPayload {
	return DispatchPayload{
		Action:               "chat",
		Message:              text,
		Class:                NormalizeTopic(topic),
		Model:                modelName,
		PrioritizeInstructor: prioritizeInstructor,
		Token:                token,
	}
}

// NormalizeTopic converts a display topic to its wire form: lowercased with
// all whitespace removed ("CPSC 110" -> "cpsc110").
func NormalizeTopic(topic string) string {
	var b strings.Builder
	for _, r := range topic {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
