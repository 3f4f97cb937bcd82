// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// CITATION TYPE
// =============================================================================

// Citation is a source reference attached to an assistant message. Citations
// arrive as one batch on the citations frame and are immutable afterwards.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`

	// PostNumber is the forum post number, used as the inline reference key.
	// Zero means the backend did not supply one.
	PostNumber int `json:"post_number,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a session.
//
// User messages are immutable once created. An assistant message starts as a
// placeholder (IsLoading) and is the sole mutable target of streaming updates
// until the request completes, fails, or times out.
type Message struct {
	// ID is monotonically increasing within its session.
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Text is the display text. During streaming it holds the full
	// accumulated text so far; for progress frames it holds a transient
	// status string.
	Text string `json:"text"`

	// Citations attached by the citations frame, if any.
	Citations []Citation `json:"citations,omitempty"`

	// IsStreaming is true while the message is the target of an in-flight
	// request. A message with IsStreaming false is final and immutable.
	IsStreaming bool `json:"is_streaming,omitempty"`

	// IsLoading is true until the first displayable text arrives.
	IsLoading bool `json:"is_loading,omitempty"`

	// IsError marks a terminal failure text (timeout, auth, connection).
	IsError bool `json:"is_error,omitempty"`

	// LowConfidence is set when the completion frame flags the answer as
	// under-supported by the retrieved context.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Mutable reports whether the message may still be patched. Only an
// assistant message that has not been finalized is mutable; late frames for
// a finalized message must be ignored, not applied.
func (m *Message) Mutable() bool {
	return m.Role == RoleAssistant && (m.IsStreaming || m.IsLoading)
}

// Finalize clears the transient streaming flags, making the message
// immutable from here on.
func (m *Message) Finalize() {
	m.IsStreaming = false
	m.IsLoading = false
}

// Preview returns a truncated single-line preview of the message text.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Text)
	if len(runes) <= maxLen {
		return m.Text
	}
	return string(runes[:maxLen-3]) + "..."
}
