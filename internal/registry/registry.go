// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry owns the set of open conversation tabs.
//
// The registry holds session ordering, display titles, and the active-tab
// pointer. It has no network awareness: connections, pending requests, and
// watchdogs live in the client package and are keyed by session ID.
//
// Two invariants hold after every operation: at least one session exists,
// and exactly one session is active.
package registry

import (
	"errors"
	"sync"

	"github.com/jeranaias/campuschat/internal/model"
)

// DefaultMaxSessions caps the number of open tabs when no limit is given.
const DefaultMaxSessions = 10

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrCapacityExceeded is returned by Create when the session limit is
	// reached. No state changes.
	ErrCapacityExceeded = errors.New("session limit reached")

	// ErrSessionNotFound is returned when the given session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")
)

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the owner of all sessions. All operations are synchronous and
// leave the registry fully consistent before returning; listeners are
// notified after the mutation is complete.
type Registry struct {
	mu          sync.Mutex
	sessions    []*model.Session
	activeID    string
	maxSessions int
	listeners   []func()
}

// New creates a registry seeded with a single default session.
func New(maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	r := &Registry{maxSessions: maxSessions}
	s := model.NewSession()
	r.sessions = []*model.Session{s}
	r.activeID = s.ID
	return r
}

// Restore creates a registry from persisted sessions. Transient streaming
// state is cleared; if the slice is empty or the active ID is unknown, the
// registry falls back to a sane default so the invariants hold.
func Restore(sessions []*model.Session, activeID string, maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if len(sessions) == 0 {
		return New(maxSessions)
	}
	if len(sessions) > maxSessions {
		sessions = sessions[:maxSessions]
	}
	r := &Registry{maxSessions: maxSessions, sessions: sessions}
	for _, s := range sessions {
		s.ClearTransientState()
	}
	r.activeID = sessions[0].ID
	for _, s := range sessions {
		if s.ID == activeID {
			r.activeID = activeID
			break
		}
	}
	return r
}

// Subscribe registers a listener invoked after every mutation. Listeners
// run outside the registry lock, in registration order.
func (r *Registry) Subscribe(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// notify runs all listeners. Must be called without the lock held.
func (r *Registry) notify() {
	r.mu.Lock()
	listeners := make([]func(), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// =============================================================================
// READ ACCESS
// =============================================================================

// Sessions returns the sessions in tab order. The slice is a copy; the
// sessions themselves are shared and must be treated as read-only by
// callers.
func (r *Registry) Sessions() []*model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(id string) *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

// get returns the session with the given ID. Caller must hold the lock.
func (r *Registry) get(id string) *model.Session {
	for _, s := range r.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// indexOf returns the tab index of a session ID, or -1. Caller must hold
// the lock.
func (r *Registry) indexOf(id string) int {
	for i, s := range r.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Active returns the active session.
func (r *Registry) Active() *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(r.activeID)
}

// ActiveID returns the active session's ID.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Cap returns the configured session limit.
func (r *Registry) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSessions
}

// Export returns a deep copy of the session list and the active ID, for
// snapshotting.
func (r *Registry) Export() ([]*model.Session, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Session, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = s.Clone()
	}
	return out, r.activeID
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// Create opens a new tab and makes it active. Fails with
// ErrCapacityExceeded once the configured maximum is reached.
func (r *Registry) Create() (*model.Session, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	s := model.NewSession()
	r.sessions = append(r.sessions, s)
	r.activeID = s.ID
	r.mu.Unlock()

	r.notify()
	return s, nil
}

// Close removes a tab. Closing the active tab promotes a deterministic
// neighbor: the previous tab by index, else the next. Closing the last
// remaining tab replaces it with a freshly minted default session, so the
// registry never drops to zero sessions.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	idx := r.indexOf(id)
	if idx < 0 {
		r.mu.Unlock()
		return ErrSessionNotFound
	}

	if len(r.sessions) == 1 {
		// Last tab: replace rather than remove.
		s := model.NewSession()
		r.sessions = []*model.Session{s}
		r.activeID = s.ID
		r.mu.Unlock()
		r.notify()
		return nil
	}

	wasActive := r.activeID == id
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)

	if wasActive {
		// Previous index, else next (which after removal sits at idx).
		next := idx - 1
		if next < 0 {
			next = 0
		}
		r.activeID = r.sessions[next].ID
	}
	r.mu.Unlock()

	r.notify()
	return nil
}

// Rename sets a tab's display title.
func (r *Registry) Rename(id, title string) error {
	r.mu.Lock()
	s := r.get(id)
	if s == nil {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	s.SetTitle(title)
	r.mu.Unlock()

	r.notify()
	return nil
}

// SetActive switches the active tab. Background sessions keep streaming;
// switching cancels nothing.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	if r.get(id) == nil {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	r.activeID = id
	r.mu.Unlock()

	r.notify()
	return nil
}

// SetTopic sets the selected topic (course) for a session.
func (r *Registry) SetTopic(id, topic string) error {
	r.mu.Lock()
	s := r.get(id)
	if s == nil {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	s.Topic = topic
	s.Touch()
	r.mu.Unlock()

	r.notify()
	return nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// AppendExchange adds the immutable user message and the assistant
// placeholder for one dispatch in a single registry operation, so observers
// never see the half-appended state. Returns the placeholder.
func (r *Registry) AppendExchange(id, userText string) (*model.Message, error) {
	r.mu.Lock()
	s := r.get(id)
	if s == nil {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	s.AppendUserMessage(userText)
	placeholder := s.AppendAssistantPlaceholder()
	r.mu.Unlock()

	r.notify()
	return placeholder, nil
}

// AppendMessages appends pre-built messages to a session, assigning each
// the session's next monotonic ID.
func (r *Registry) AppendMessages(id string, msgs ...*model.Message) error {
	r.mu.Lock()
	s := r.get(id)
	if s == nil {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	for _, msg := range msgs {
		s.Append(msg)
	}
	r.mu.Unlock()

	r.notify()
	return nil
}

// MutateMessage applies fn to the given message if it exists and is still
// mutable. Mutating a finalized message is a no-op, not an error: late
// frames arriving after completion or timeout must not resurrect stale
// state. Returns true if the patch was applied.
func (r *Registry) MutateMessage(id string, messageID int64, fn func(*model.Message)) bool {
	r.mu.Lock()
	s := r.get(id)
	if s == nil {
		r.mu.Unlock()
		return false
	}
	msg := s.MessageByID(messageID)
	if msg == nil || !msg.Mutable() {
		r.mu.Unlock()
		return false
	}
	fn(msg)
	s.Touch()
	r.mu.Unlock()

	r.notify()
	return true
}
