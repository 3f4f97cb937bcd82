// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport manages the per-session duplex connections to the chat
// backend.
//
// Each session owns at most one Connection. A Connection moves through
// Idle -> Connecting -> Open -> Closed; Closed is terminal and a later
// acquire constructs a fresh instance. Connections are never shared across
// sessions, so a transport failure on one tab cannot affect another.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeranaias/campuschat/internal/auth"
	"github.com/jeranaias/campuschat/internal/clog"
)

// DefaultConnectTimeout bounds credential fetch plus dial for one attempt.
const DefaultConnectTimeout = 10 * time.Second

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConnected is returned by Send when no usable connection exists.
	// The caller must surface this, never silently drop the request.
	ErrNotConnected = errors.New("connection closed")

	// ErrSendPending is returned when a payload is already queued behind a
	// connection that has not finished opening.
	ErrSendPending = errors.New("a send is already queued")

	// ErrConnectTimeout indicates the connection did not reach Open within
	// the configured window.
	ErrConnectTimeout = errors.New("connection establishment timed out")
)

// =============================================================================
// CONNECTION STATE
// =============================================================================

// State is the lifecycle state of a Connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// =============================================================================
// DIALER ABSTRACTION
// =============================================================================

// Conn is the subset of a websocket connection the manager needs. Satisfied
// by *websocket.Conn; tests substitute fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a Conn to the given URL.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string) (Conn, error)
}

// WebSocketDialer dials real websocket connections.
type WebSocketDialer struct{}

// DialContext dials urlStr with the default gorilla dialer.
func (WebSocketDialer) DialContext(ctx context.Context, urlStr string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// =============================================================================
// CONNECTION
// =============================================================================

// Connection is one session's duplex channel to the backend.
type Connection struct {
	sessionID string

	mu          sync.Mutex
	state       State
	conn        Conn
	pendingSend interface{}
	deliberate  bool
}

// SessionID returns the owning session's ID.
func (c *Connection) SessionID() string {
	return c.sessionID
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// =============================================================================
// MANAGER
// =============================================================================

// Config holds the manager's collaborators and tuning.
type Config struct {
	// Endpoint is the websocket URL of the chat backend.
	Endpoint string

	// Dialer opens connections; defaults to WebSocketDialer.
	Dialer Dialer

	// Credentials issues the connect-time bearer token.
	Credentials auth.CredentialProvider

	// ConnectTimeout bounds credential fetch plus dial.
	ConnectTimeout time.Duration

	// OnFrame is invoked for every inbound frame, tagged with the owning
	// session. Called from the connection's read goroutine.
	OnFrame func(sessionID string, data []byte)

	// OnClosed is invoked when a connection fails or the peer closes it.
	// Not invoked for deliberate local closes.
	OnClosed func(sessionID string, err error)
}

// Manager owns at most one live Connection per session.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*Connection
	cfg   Config
}

// NewManager creates a connection manager.
func NewManager(cfg Config) *Manager {
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Manager{
		conns: make(map[string]*Connection),
		cfg:   cfg,
	}
}

// Acquire returns the session's connection, creating and dialing a new one
// unless a live (Open or Connecting) instance already exists. Dead
// instances are discarded; Closed is terminal per instance.
func (m *Manager) Acquire(sessionID string) *Connection {
	m.mu.Lock()
	if c, ok := m.conns[sessionID]; ok {
		c.mu.Lock()
		st := c.state
		c.mu.Unlock()
		if st == StateOpen || st == StateConnecting {
			m.mu.Unlock()
			return c
		}
	}

	c := &Connection{sessionID: sessionID, state: StateConnecting}
	m.conns[sessionID] = c
	m.mu.Unlock()

	go m.connect(c)
	return c
}

// Send transmits payload on the session's connection. While Connecting the
// payload is queued (one deep) and flushed when the connection opens; the
// connect timeout converts a hung open into a failure through OnClosed.
// Send on a Closed or absent connection fails synchronously.
func (m *Manager) Send(sessionID string, payload interface{}) error {
	m.mu.Lock()
	c, ok := m.conns[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	c.mu.Lock()
	switch c.state {
	case StateOpen:
		conn := c.conn
		c.mu.Unlock()
		if err := conn.WriteJSON(payload); err != nil {
			m.closeWithError(c, fmt.Errorf("write failed: %w", err))
			return fmt.Errorf("write failed: %w", err)
		}
		return nil

	case StateConnecting:
		if c.pendingSend != nil {
			c.mu.Unlock()
			return ErrSendPending
		}
		c.pendingSend = payload
		c.mu.Unlock()
		return nil

	default:
		c.mu.Unlock()
		return ErrNotConnected
	}
}

// Close proactively closes the session's connection, e.g. when the owning
// tab is closed. No OnClosed callback fires for a deliberate close.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	c, ok := m.conns[sessionID]
	if ok {
		delete(m.conns, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.deliberate = true
	alreadyClosed := c.state == StateClosed
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.pendingSend = nil
	c.mu.Unlock()

	if !alreadyClosed && conn != nil {
		conn.Close()
	}
}

// CloseAll closes every connection, for process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}

// =============================================================================
// CONNECTION ESTABLISHMENT
// =============================================================================

// connect authenticates and dials. A credential failure aborts before any
// network activity.
func (m *Manager) connect(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	token, err := m.cfg.Credentials.FetchToken(ctx)
	if err != nil {
		m.closeWithError(c, err)
		return
	}

	conn, err := m.cfg.Dialer.DialContext(ctx, m.dialURL(token))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		m.closeWithError(c, err)
		return
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while dialing; discard the fresh socket.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.state = StateOpen
	c.conn = conn
	queued := c.pendingSend
	c.pendingSend = nil
	c.mu.Unlock()

	clog.Debugf("transport: session %s connected", c.sessionID)

	if queued != nil {
		if err := conn.WriteJSON(queued); err != nil {
			m.closeWithError(c, fmt.Errorf("queued write failed: %w", err))
			return
		}
	}

	go m.readLoop(c, conn)
}

// dialURL appends the connect-time token as a query parameter, matching the
// backend's $connect authorizer.
func (m *Manager) dialURL(token string) string {
	return m.cfg.Endpoint + "?token=" + url.QueryEscape(token)
}

// readLoop delivers inbound frames until the connection dies.
func (m *Manager) readLoop(c *Connection, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.closeWithError(c, fmt.Errorf("read failed: %w", err))
			return
		}
		if m.cfg.OnFrame != nil {
			m.cfg.OnFrame(c.sessionID, data)
		}
	}
}

// closeWithError transitions the connection to Closed, discards it from the
// manager, and reports the failure unless the close was deliberate.
func (m *Manager) closeWithError(c *Connection, err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.pendingSend = nil
	deliberate := c.deliberate
	c.mu.Unlock()

	// Closed is terminal; a fresh acquire must never find this instance.
	// The map may already hold a replacement, which stays.
	m.mu.Lock()
	if m.conns[c.sessionID] == c {
		delete(m.conns, c.sessionID)
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if !deliberate && m.cfg.OnClosed != nil {
		clog.Debugf("transport: session %s closed: %v", c.sessionID, err)
		m.cfg.OnClosed(c.sessionID, err)
	}
}
