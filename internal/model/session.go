// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/campuschat/internal/util"
)

// DefaultTitle is the title given to sessions before the first user message.
const DefaultTitle = "New chat"

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session holds one conversation tab: its messages, display title, and the
// currently selected topic (course).
type Session struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`

	// Topic is the selected course, as displayed (e.g. "CPSC 110"). The
	// wire form is normalized at dispatch time, not here.
	Topic string `json:"topic,omitempty"`

	// Messages in arrival order.
	Messages []*Message `json:"messages"`

	// LastActivityAt is bumped on every mutation that touches the session.
	LastActivityAt time.Time `json:"last_activity_at"`

	// NextMessageID is the next message ID to hand out. Persisted so that
	// IDs stay monotonic across restarts.
	NextMessageID int64 `json:"next_message_id"`
}

// NewSession creates an empty session with a generated ID.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:             "tab_" + uuid.NewString(),
		Title:          DefaultTitle,
		CreatedAt:      now,
		LastActivityAt: now,
		Messages:       make([]*Message, 0),
		NextMessageID:  1,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// nextID hands out the next monotonic message ID.
func (s *Session) nextID() int64 {
	id := s.NextMessageID
	s.NextMessageID++
	return id
}

// Touch bumps the last-activity timestamp.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now()
}

// Append adds a pre-built message, assigning it the session's next
// monotonic ID.
func (s *Session) Append(msg *Message) {
	msg.ID = s.nextID()
	s.Messages = append(s.Messages, msg)
	s.updateTitle()
	s.Touch()
}

// AppendUserMessage adds an immutable user message and returns it. The first
// user message also seeds the tab title.
func (s *Session) AppendUserMessage(text string) *Message {
	msg := &Message{
		ID:        s.nextID(),
		Role:      RoleUser,
		Text:      text,
		Timestamp: time.Now(),
	}
	s.Messages = append(s.Messages, msg)
	s.updateTitle()
	s.Touch()
	return msg
}

// AppendAssistantPlaceholder adds a placeholder assistant message that will
// be the target of streaming updates, and returns it.
func (s *Session) AppendAssistantPlaceholder() *Message {
	msg := &Message{
		ID:          s.nextID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
		IsLoading:   true,
	}
	s.Messages = append(s.Messages, msg)
	s.Touch()
	return msg
}

// MessageByID returns the message with the given ID, or nil.
func (s *Session) MessageByID(id int64) *Message {
	for _, msg := range s.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// LastMessage returns the most recent message, or nil if empty.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// MessageCount returns the number of messages.
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// updateTitle seeds the title from the first user message if still default.
func (s *Session) updateTitle() {
	if s.Title != "" && s.Title != DefaultTitle {
		return
	}
	for _, msg := range s.Messages {
		if msg.Role == RoleUser && msg.Text != "" {
			s.Title = util.TruncateString(util.CollapseWhitespace(msg.Text), 40)
			return
		}
	}
}

// SetTitle manually sets the tab title.
func (s *Session) SetTitle(title string) {
	s.Title = title
	s.Touch()
}

// =============================================================================
// RESTART NORMALIZATION
// =============================================================================

// ClearTransientState drops state that must not survive a restart: no
// message may come back still marked streaming or loading, because on reload
// there is no live connection and no pending request. Partial streamed text
// is kept as-is.
func (s *Session) ClearTransientState() {
	for _, msg := range s.Messages {
		if msg.IsStreaming || msg.IsLoading {
			msg.Finalize()
		}
	}
}

// Clone creates a deep copy of the session.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Messages = make([]*Message, len(s.Messages))
	for i, msg := range s.Messages {
		msgCopy := *msg
		if msg.Citations != nil {
			msgCopy.Citations = append([]Citation(nil), msg.Citations...)
		}
		clone.Messages[i] = &msgCopy
	}
	return &clone
}
