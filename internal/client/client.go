// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client wires the session registry, connection manager, protocol
// interpreter, watchdog, and persistence into one chat client instance.
//
// All cross-session bookkeeping lives here, keyed by session ID: the
// pending-request table, the per-session rate limiters, and the watchdog
// timers. Inbound activity is funneled onto a single per-instance event
// queue and processed in order by one goroutine, so handlers never race
// each other; timers and connection callbacks only post events.
//
// Everything is recovered locally at the session level. No failure here is
// fatal to the process, and no failure on one session can touch another.
package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jeranaias/campuschat/internal/auth"
	"github.com/jeranaias/campuschat/internal/clog"
	"github.com/jeranaias/campuschat/internal/config"
	"github.com/jeranaias/campuschat/internal/model"
	"github.com/jeranaias/campuschat/internal/protocol"
	"github.com/jeranaias/campuschat/internal/registry"
	"github.com/jeranaias/campuschat/internal/storage"
	"github.com/jeranaias/campuschat/internal/transport"
)

// =============================================================================
// ERRORS AND USER-FACING TEXTS
// =============================================================================

var (
	// ErrRequestInFlight is returned when a session already has an
	// outstanding request. One dispatch per session at a time.
	ErrRequestInFlight = errors.New("a request is already in flight for this session")

	// ErrRateLimited is returned when a session dispatches faster than the
	// configured rate.
	ErrRateLimited = errors.New("dispatch rate limit exceeded")

	// ErrEmptyMessage is returned for a blank dispatch.
	ErrEmptyMessage = errors.New("message is empty")
)

// Terminal texts written into the in-flight assistant message. Each failure
// class gets distinct wording so the user can tell a stall from an auth
// problem.
const (
	timeoutErrorText    = "The assistant took too long to respond. Please try again."
	authErrorText       = "Could not authenticate with the server. Please sign in and try again."
	connectionErrorText = "A connection error occurred. Please try again."
)

// =============================================================================
// EVENTS
// =============================================================================

// event is anything processed by the run loop.
type event interface{}

// frameEvent is an inbound frame from a session's connection.
type frameEvent struct {
	sessionID string
	data      []byte
}

// connClosedEvent reports a connection failure (never a deliberate close).
type connClosedEvent struct {
	sessionID string
	err       error
}

// sendFailedEvent reports a failed credential fetch or send.
type sendFailedEvent struct {
	sessionID string
	requestID string
	err       error
}

// watchdogEvent reports a watchdog expiry. requestID and generation identify
// the exact arming the timer belongs to, guarding against a timer firing
// after a new request started or after a liveness reset superseded it.
type watchdogEvent struct {
	sessionID  string
	requestID  string
	generation uint64
}

// =============================================================================
// PENDING REQUEST
// =============================================================================

// pendingRequest tracks a session's single in-flight dispatch. timer is nil
// while the dispatch is still being set up; timerGen counts armings so an
// expiry event can be matched to the exact timer that posted it.
type pendingRequest struct {
	id           string
	sessionID    string
	messageID    int64
	dispatchedAt time.Time
	timer        *time.Timer
	timerGen     uint64
}

// =============================================================================
// CLIENT
// =============================================================================

// Options configures a Client.
type Options struct {
	// Chat holds backend endpoint and timing configuration.
	Chat config.ChatConfig

	// MaxSessions caps the number of open tabs.
	MaxSessions int

	// Credentials issues bearer tokens, one per connect and one per send.
	Credentials auth.CredentialProvider

	// Store is the durable KV for session snapshots.
	Store storage.KV

	// Dialer overrides the websocket dialer, for tests.
	Dialer transport.Dialer
}

// Client is one running chat client instance. Multiple independent
// instances can coexist; nothing is shared between them.
type Client struct {
	reg       *registry.Registry
	interp    *protocol.Interpreter
	conns     *transport.Manager
	creds     auth.CredentialProvider
	snapshots *storage.SnapshotStore

	chatModel            string
	prioritizeInstructor bool
	requestTimeout       time.Duration
	dispatchRate         int

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	limiters map[string]*rate.Limiter

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a client, loading the persisted session snapshot. A
// missing or corrupt snapshot falls back to a single default session.
func New(opts Options) *Client {
	snapshots := storage.NewSnapshotStore(opts.Store)

	var reg *registry.Registry
	snap, err := snapshots.Load()
	if err != nil {
		clog.Warnf("client: snapshot load failed, starting fresh: %v", err)
	}
	if snap != nil {
		reg = registry.Restore(snap.Sessions, snap.ActiveSessionID, opts.MaxSessions)
	} else {
		reg = registry.New(opts.MaxSessions)
	}

	c := &Client{
		reg:                  reg,
		creds:                opts.Credentials,
		snapshots:            snapshots,
		chatModel:            opts.Chat.Model,
		prioritizeInstructor: opts.Chat.PrioritizeInstructor,
		requestTimeout:       time.Duration(opts.Chat.RequestTimeoutSecs) * time.Second,
		dispatchRate:         opts.Chat.DispatchRatePerMin,
		pending:              make(map[string]*pendingRequest),
		limiters:             make(map[string]*rate.Limiter),
		events:               make(chan event, 256),
		done:                 make(chan struct{}),
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 20 * time.Second
	}

	c.interp = protocol.NewInterpreter(reg)
	c.conns = transport.NewManager(transport.Config{
		Endpoint:       opts.Chat.WSEndpoint,
		Dialer:         opts.Dialer,
		Credentials:    opts.Credentials,
		ConnectTimeout: time.Duration(opts.Chat.ConnectTimeoutSecs) * time.Second,
		OnFrame: func(sessionID string, data []byte) {
			c.post(frameEvent{sessionID: sessionID, data: data})
		},
		OnClosed: func(sessionID string, err error) {
			c.post(connClosedEvent{sessionID: sessionID, err: err})
		},
	})

	// Persistence is the first subscriber: every registry mutation is
	// snapshotted before dependent UI redraws.
	reg.Subscribe(c.persist)

	return c
}

// Start launches the event loop.
func (c *Client) Start() {
	go c.run()
}

// Stop shuts the client down: closes every connection and stops the loop.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.conns.CloseAll()

		c.mu.Lock()
		for _, pr := range c.pending {
			if pr.timer != nil {
				pr.timer.Stop()
			}
		}
		c.pending = make(map[string]*pendingRequest)
		c.mu.Unlock()
	})
}

// Registry exposes read access and change subscription for collaborators
// (the rendering layer, topic subscription, post drafting).
func (c *Client) Registry() *registry.Registry {
	return c.reg
}

// HasPending reports whether the session has an outstanding request.
func (c *Client) HasPending(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[sessionID] != nil
}

// =============================================================================
// EVENT LOOP
// =============================================================================

// post delivers an event to the loop unless the client is stopped.
func (c *Client) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// run processes events in order until Stop.
func (c *Client) run() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// handle dispatches one event.
func (c *Client) handle(ev event) {
	switch e := ev.(type) {
	case frameEvent:
		c.handleFrame(e)
	case connClosedEvent:
		c.handleConnClosed(e)
	case sendFailedEvent:
		c.handleSendFailed(e)
	case watchdogEvent:
		c.handleWatchdog(e)
	}
}

// =============================================================================
// DISPATCH
// =============================================================================

// Dispatch sends the user's text on the given session. It appends the user
// message and the assistant placeholder, arms the watchdog, and hands the
// network work to a background goroutine. Fails synchronously when the
// session is unknown, already has a request in flight, or is rate limited.
func (c *Client) Dispatch(sessionID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s := c.reg.Get(sessionID)
	if s == nil {
		return registry.ErrSessionNotFound
	}
	topic := s.Topic

	c.mu.Lock()
	if c.pending[sessionID] != nil {
		c.mu.Unlock()
		return ErrRequestInFlight
	}
	if lim := c.limiter(sessionID); lim != nil && !lim.Allow() {
		c.mu.Unlock()
		return ErrRateLimited
	}

	// Reserve the single-flight slot, then release the lock: registry
	// listeners fire synchronously on mutation and may call back into
	// Client methods that take c.mu.
	pr := &pendingRequest{
		id:           uuid.NewString(),
		sessionID:    sessionID,
		dispatchedAt: time.Now(),
	}
	c.pending[sessionID] = pr
	c.mu.Unlock()

	placeholder, err := c.reg.AppendExchange(sessionID, text)
	if err != nil {
		c.mu.Lock()
		if c.pending[sessionID] == pr {
			delete(c.pending, sessionID)
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.pending[sessionID] != pr {
		// The session was closed while the exchange was being appended.
		c.mu.Unlock()
		return registry.ErrSessionNotFound
	}
	pr.messageID = placeholder.ID
	pr.timer = c.armWatchdog(pr)
	c.mu.Unlock()

	go c.transmit(pr, text, topic)
	return nil
}

// limiter returns the session's rate limiter. Caller must hold c.mu.
func (c *Client) limiter(sessionID string) *rate.Limiter {
	if c.dispatchRate <= 0 {
		return nil
	}
	lim, ok := c.limiters[sessionID]
	if !ok {
		burst := c.dispatchRate / 6
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(float64(c.dispatchRate)/60.0), burst)
		c.limiters[sessionID] = lim
	}
	return lim
}

// armWatchdog starts the liveness timer for a request. Caller must hold
// c.mu. Each arming bumps the request's timer generation, and the expiry
// event carries both the request ID and that generation; a timer that had
// already fired when a liveness frame re-armed the watchdog can therefore
// never time out the request it was superseded on.
func (c *Client) armWatchdog(pr *pendingRequest) *time.Timer {
	pr.timerGen++
	sessionID, requestID, gen := pr.sessionID, pr.id, pr.timerGen
	return time.AfterFunc(c.requestTimeout, func() {
		c.post(watchdogEvent{sessionID: sessionID, requestID: requestID, generation: gen})
	})
}

// transmit fetches a fresh token, builds the payload, and sends it over the
// session's connection, establishing one as needed. Runs off the loop; all
// failures are reported back as events.
func (c *Client) transmit(pr *pendingRequest, text, topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	// Fresh token per send: long-lived connections outlive short-lived
	// tokens.
	token, err := c.creds.FetchToken(ctx)
	if err != nil {
		c.post(sendFailedEvent{sessionID: pr.sessionID, requestID: pr.id, err: err})
		return
	}

	payload := protocol.NewDispatchPayload(text, topic, c.chatModel, c.prioritizeInstructor, token)

	c.conns.Acquire(pr.sessionID)
	if err := c.conns.Send(pr.sessionID, payload); err != nil {
		c.post(sendFailedEvent{sessionID: pr.sessionID, requestID: pr.id, err: err})
	}
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// handleFrame decodes and applies one inbound frame.
func (c *Client) handleFrame(e frameEvent) {
	f, err := protocol.DecodeFrame(e.data)
	if err != nil {
		// Malformed frames are dropped; they must not corrupt any state.
		clog.Warnf("client: dropping frame for session %s: %v", e.sessionID, err)
		return
	}

	c.mu.Lock()
	pr := c.pending[e.sessionID]
	var timer *time.Timer
	if pr != nil {
		timer = pr.timer
	}
	c.mu.Unlock()
	if pr == nil || timer == nil {
		// Late frame after completion, timeout, or tab close, or a stray
		// one racing a dispatch that is still being set up.
		clog.Debugf("client: ignoring %s frame for idle session %s", f.Type, e.sessionID)
		return
	}

	// Content frames prove liveness; the watchdog is cancelled here and
	// re-armed below only while the request is still outstanding. A start
	// frame is just an acknowledgment and leaves the timer running.
	if f.IsLiveness() {
		timer.Stop()
	}

	done := c.interp.Apply(e.sessionID, pr.messageID, f)
	if done {
		c.release(pr)
		return
	}
	if f.IsLiveness() {
		c.mu.Lock()
		if c.pending[e.sessionID] == pr {
			pr.timer = c.armWatchdog(pr)
		}
		c.mu.Unlock()
	}
}

// handleWatchdog converts an expired request into a timeout failure.
func (c *Client) handleWatchdog(e watchdogEvent) {
	c.mu.Lock()
	pr := c.pending[e.sessionID]
	if pr == nil || pr.id != e.requestID || pr.timerGen != e.generation {
		// Stale timer for a request that already resolved or was re-armed.
		c.mu.Unlock()
		return
	}
	delete(c.pending, e.sessionID)
	c.mu.Unlock()

	clog.Infof("client: request timed out on session %s after %s", e.sessionID, time.Since(pr.dispatchedAt).Round(time.Second))
	c.interp.Fail(e.sessionID, pr.messageID, timeoutErrorText)
}

// handleSendFailed converts a failed credential fetch or send into a
// terminal message error.
func (c *Client) handleSendFailed(e sendFailedEvent) {
	c.mu.Lock()
	pr := c.pending[e.sessionID]
	if pr == nil || pr.id != e.requestID {
		c.mu.Unlock()
		return
	}
	pr.timer.Stop()
	delete(c.pending, e.sessionID)
	c.mu.Unlock()

	clog.Warnf("client: dispatch failed on session %s: %v", e.sessionID, e.err)
	c.interp.Fail(e.sessionID, pr.messageID, failureText(e.err))
}

// handleConnClosed fails any request that was riding the dead connection.
// A reservation whose watchdog is not yet armed is left alone: its dispatch
// has not touched the network, so the dead connection cannot be its own.
func (c *Client) handleConnClosed(e connClosedEvent) {
	c.mu.Lock()
	pr := c.pending[e.sessionID]
	if pr == nil || pr.timer == nil {
		c.mu.Unlock()
		clog.Debugf("client: connection closed for idle session %s: %v", e.sessionID, e.err)
		return
	}
	pr.timer.Stop()
	delete(c.pending, e.sessionID)
	c.mu.Unlock()

	clog.Warnf("client: connection failed on session %s: %v", e.sessionID, e.err)
	c.interp.Fail(e.sessionID, pr.messageID, failureText(e.err))
}

// failureText maps an error to its user-facing terminal text.
func failureText(err error) string {
	if errors.Is(err, auth.ErrUnavailable) {
		return authErrorText
	}
	return connectionErrorText
}

// release finishes a completed request, freeing the session for the next
// dispatch.
func (c *Client) release(pr *pendingRequest) {
	pr.timer.Stop()
	c.mu.Lock()
	if c.pending[pr.sessionID] == pr {
		delete(c.pending, pr.sessionID)
	}
	c.mu.Unlock()
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// CreateSession opens a new tab and makes it active.
func (c *Client) CreateSession() (*model.Session, error) {
	return c.reg.Create()
}

// CloseSession tears down a tab: watchdog cancelled, pending request
// discarded, connection closed, interpreter buffer dropped, and only then
// is the session removed from the registry. No late callback can resurrect
// a closed session's state.
func (c *Client) CloseSession(sessionID string) error {
	c.mu.Lock()
	if pr := c.pending[sessionID]; pr != nil {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		delete(c.pending, sessionID)
	}
	delete(c.limiters, sessionID)
	c.mu.Unlock()

	c.conns.Close(sessionID)
	c.interp.DropSession(sessionID)

	return c.reg.Close(sessionID)
}

// RenameSession sets a tab's display title.
func (c *Client) RenameSession(sessionID, title string) error {
	return c.reg.Rename(sessionID, title)
}

// SetActive switches the active tab. Background sessions keep streaming.
func (c *Client) SetActive(sessionID string) error {
	return c.reg.SetActive(sessionID)
}

// SetTopic selects the topic (course) for a session.
func (c *Client) SetTopic(sessionID, topic string) error {
	return c.reg.SetTopic(sessionID, topic)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persist snapshots the registry. Best-effort: a failed save is logged and
// never blocks or rolls back the in-memory mutation.
func (c *Client) persist() {
	sessions, activeID := c.reg.Export()
	snap := &storage.Snapshot{Sessions: sessions, ActiveSessionID: activeID}
	if err := c.snapshots.Save(snap); err != nil {
		clog.Warnf("client: snapshot save failed: %v", err)
	}
}
