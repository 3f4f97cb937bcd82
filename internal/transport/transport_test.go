// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/campuschat/internal/auth"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeConn is an in-memory Conn. Frames pushed into frames are returned by
// ReadMessage; Close unblocks any pending read with an error.
type fakeConn struct {
	mu     sync.Mutex
	writes []interface{}

	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.frames:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection reset")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// fakeDialer hands out fakeConns and records dialed URLs. An optional gate
// channel holds the dial open until released.
type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn

	gate chan struct{}
	err  error
}

func (d *fakeDialer) DialContext(ctx context.Context, urlStr string) (Conn, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, urlStr)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newTestManager(d Dialer, onFrame func(string, []byte), onClosed func(string, error)) *Manager {
	return NewManager(Config{
		Endpoint:       "wss://chat.example.test/prod",
		Dialer:         d,
		Credentials:    &auth.StaticProvider{Token: "tok/with special"},
		ConnectTimeout: time.Second,
		OnFrame:        onFrame,
		OnClosed:       onClosed,
	})
}

// =============================================================================
// TESTS
// =============================================================================

func TestAcquireConnectsAndSends(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, nil, nil)

	c := m.Acquire("tab_a")
	waitUntil(t, func() bool { return c.State() == StateOpen })

	if err := m.Send("tab_a", map[string]string{"action": "chat"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if d.lastConn().writeCount() != 1 {
		t.Error("payload not written")
	}

	// The connect-time token rides the URL, query-escaped.
	url := d.urls[0]
	if !strings.HasPrefix(url, "wss://chat.example.test/prod?token=") {
		t.Errorf("dial URL = %q", url)
	}
	if strings.Contains(url, " ") || !strings.Contains(url, "tok%2Fwith") {
		t.Errorf("token not query-escaped: %q", url)
	}
}

func TestAcquireReusesLiveConnection(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, nil, nil)

	c := m.Acquire("tab_a")
	waitUntil(t, func() bool { return c.State() == StateOpen })
	m.Acquire("tab_a")

	time.Sleep(20 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("dialCount = %d, want 1 (live connection reused)", d.dialCount())
	}
}

func TestSendQueuedWhileConnecting(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	m := newTestManager(d, nil, nil)

	c := m.Acquire("tab_a")
	if c.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", c.State())
	}

	if err := m.Send("tab_a", "first"); err != nil {
		t.Fatalf("queued Send() error: %v", err)
	}
	if err := m.Send("tab_a", "second"); !errors.Is(err, ErrSendPending) {
		t.Fatalf("second Send() error = %v, want ErrSendPending", err)
	}

	close(gate)
	waitUntil(t, func() bool { return c.State() == StateOpen })
	waitUntil(t, func() bool { return d.lastConn().writeCount() == 1 })

	if d.lastConn().writes[0] != "first" {
		t.Errorf("flushed payload = %v", d.lastConn().writes[0])
	}
}

func TestSendWithoutConnection(t *testing.T) {
	m := newTestManager(&fakeDialer{}, nil, nil)
	if err := m.Send("tab_nope", "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestInboundFramesTagged(t *testing.T) {
	type frame struct {
		sessionID string
		data      string
	}
	got := make(chan frame, 1)
	d := &fakeDialer{}
	m := newTestManager(d, func(sessionID string, data []byte) {
		got <- frame{sessionID, string(data)}
	}, nil)

	c := m.Acquire("tab_a")
	waitUntil(t, func() bool { return c.State() == StateOpen })

	d.lastConn().frames <- []byte(`{"type":"chat_chunk"}`)
	select {
	case f := <-got:
		if f.sessionID != "tab_a" || f.data != `{"type":"chat_chunk"}` {
			t.Errorf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestReadFailureReportsClosed(t *testing.T) {
	closed := make(chan error, 1)
	d := &fakeDialer{}
	m := newTestManager(d, nil, func(sessionID string, err error) {
		closed <- err
	})

	c := m.Acquire("tab_a")
	waitUntil(t, func() bool { return c.State() == StateOpen })

	d.lastConn().Close()
	select {
	case err := <-closed:
		if err == nil {
			t.Error("OnClosed should carry the failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not invoked")
	}

	if err := m.Send("tab_a", "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after failure = %v, want ErrNotConnected", err)
	}
}

func TestDeliberateCloseSuppressesCallback(t *testing.T) {
	closed := make(chan error, 1)
	d := &fakeDialer{}
	m := newTestManager(d, nil, func(sessionID string, err error) {
		closed <- err
	})

	c := m.Acquire("tab_a")
	waitUntil(t, func() bool { return c.State() == StateOpen })

	m.Close("tab_a")
	select {
	case err := <-closed:
		t.Errorf("OnClosed fired for deliberate close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCredentialFailureAbortsBeforeDial(t *testing.T) {
	closed := make(chan error, 1)
	d := &fakeDialer{}
	m := NewManager(Config{
		Endpoint:       "wss://chat.example.test/prod",
		Dialer:         d,
		Credentials:    &auth.StaticProvider{}, // empty: always fails
		ConnectTimeout: time.Second,
		OnClosed:       func(sessionID string, err error) { closed <- err },
	})

	m.Acquire("tab_a")
	select {
	case err := <-closed:
		if !errors.Is(err, auth.ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not invoked")
	}
	if d.dialCount() != 0 {
		t.Error("no dial may happen after a credential failure")
	}
}

func TestConnectTimeout(t *testing.T) {
	closed := make(chan error, 1)
	gate := make(chan struct{}) // never released
	d := &fakeDialer{gate: gate}
	m := NewManager(Config{
		Endpoint:       "wss://chat.example.test/prod",
		Dialer:         d,
		Credentials:    &auth.StaticProvider{Token: "tok"},
		ConnectTimeout: 50 * time.Millisecond,
		OnClosed:       func(sessionID string, err error) { closed <- err },
	})

	m.Acquire("tab_a")
	select {
	case err := <-closed:
		if !errors.Is(err, ErrConnectTimeout) {
			t.Errorf("error = %v, want ErrConnectTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not invoked")
	}
}

func TestFailedConnectionDiscarded(t *testing.T) {
	closed := make(chan error, 1)
	d := &fakeDialer{}
	m := newTestManager(d, nil, func(sessionID string, err error) {
		closed <- err
	})

	c := m.Acquire("tab_a")
	waitUntil(t, func() bool { return c.State() == StateOpen })

	d.lastConn().Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not invoked")
	}

	// The dead instance is dropped from the manager, not just marked Closed.
	waitUntil(t, func() bool {
		m.mu.Lock()
		_, ok := m.conns["tab_a"]
		m.mu.Unlock()
		return !ok
	})

	// A later acquire gets a fresh connection, never the dead one.
	c2 := m.Acquire("tab_a")
	if c2 == c {
		t.Error("Acquire() returned the dead connection")
	}
	waitUntil(t, func() bool { return c2.State() == StateOpen })
	if d.dialCount() != 2 {
		t.Errorf("dialCount = %d, want 2", d.dialCount())
	}
}

func TestConnectionsAreIndependent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, nil, nil)

	a := m.Acquire("tab_a")
	waitUntil(t, func() bool { return a.State() == StateOpen })
	b := m.Acquire("tab_b")
	waitUntil(t, func() bool { return b.State() == StateOpen })

	// Killing one session's connection leaves the other usable.
	d.conns[0].Close()
	waitUntil(t, func() bool { return a.State() == StateClosed })

	if err := m.Send("tab_b", "still alive"); err != nil {
		t.Errorf("Send() on surviving session: %v", err)
	}
}
