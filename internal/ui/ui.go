// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui implements the terminal front end: a tab bar over the open
// sessions, a scrollback viewport for the active session, and an input
// line. All chat state lives behind the client; the UI re-renders from the
// registry whenever it changes and never mutates messages itself.
package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/campuschat/internal/client"
	"github.com/jeranaias/campuschat/internal/registry"
)

// =============================================================================
// MESSAGES
// =============================================================================

// refreshMsg signals that the registry changed and the view must re-render.
type refreshMsg struct{}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	client *client.Client

	input    textinput.Model
	viewport viewport.Model
	spin     spinner.Model

	width  int
	height int
	ready  bool

	// status is a transient one-line notice shown in the status bar,
	// cleared on the next keystroke.
	status    string
	statusErr bool
}

// NewModel creates the UI model over a started client.
func NewModel(c *client.Client) Model {
	input := textinput.New()
	input.Placeholder = "Ask a question... (/help for commands)"
	input.CharLimit = 4000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		client: c,
		input:  input,
		spin:   spin,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refreshViewport(true)

	case refreshMsg:
		m.refreshViewport(true)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
		if m.client.HasPending(m.client.Registry().ActiveID()) {
			m.refreshViewport(false)
		}

	case tea.KeyMsg:
		m.status = ""
		m.statusErr = false

		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "ctrl+n":
			if _, err := m.client.CreateSession(); err != nil {
				m.setStatus(statusText(err), true)
			}
			return m, nil

		case "ctrl+w":
			if err := m.client.CloseSession(m.client.Registry().ActiveID()); err != nil {
				m.setStatus(statusText(err), true)
			}
			return m, nil

		case "tab":
			m.cycleTab(1)
			return m, nil

		case "shift+tab":
			m.cycleTab(-1)
			return m, nil

		case "enter":
			return m, m.submit()

		case "pgup":
			m.viewport.HalfViewUp()
			return m, nil

		case "pgdown":
			m.viewport.HalfViewDown()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// cycleTab moves the active tab by delta, wrapping around.
func (m *Model) cycleTab(delta int) {
	reg := m.client.Registry()
	sessions := reg.Sessions()
	if len(sessions) < 2 {
		return
	}
	activeID := reg.ActiveID()
	for i, s := range sessions {
		if s.ID == activeID {
			next := (i + delta + len(sessions)) % len(sessions)
			if err := m.client.SetActive(sessions[next].ID); err != nil {
				m.setStatus(statusText(err), true)
			}
			return
		}
	}
}

// submit handles the enter key: slash commands or a chat dispatch.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}

	activeID := m.client.Registry().ActiveID()
	if err := m.client.Dispatch(activeID, text); err != nil {
		m.setStatus(statusText(err), true)
		return nil
	}
	m.input.Reset()
	return nil
}

// runCommand executes a slash command.
func (m *Model) runCommand(text string) tea.Cmd {
	parts := strings.SplitN(text, " ", 2)
	name := strings.ToLower(parts[0])
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	activeID := m.client.Registry().ActiveID()

	switch name {
	case "/quit", "/exit":
		return tea.Quit

	case "/new":
		if _, err := m.client.CreateSession(); err != nil {
			m.setStatus(statusText(err), true)
		}

	case "/close":
		if err := m.client.CloseSession(activeID); err != nil {
			m.setStatus(statusText(err), true)
		}

	case "/topic":
		if arg == "" {
			m.setStatus("usage: /topic <course>, e.g. /topic CPSC 110", true)
			return nil
		}
		if err := m.client.SetTopic(activeID, arg); err != nil {
			m.setStatus(statusText(err), true)
			return nil
		}
		m.setStatus("topic set to "+arg, false)

	case "/rename":
		if arg == "" {
			m.setStatus("usage: /rename <title>", true)
			return nil
		}
		if err := m.client.RenameSession(activeID, arg); err != nil {
			m.setStatus(statusText(err), true)
		}

	case "/help":
		m.setStatus("/topic <course>  /rename <title>  /new  /close  /quit  |  tab: switch  ctrl+n: new  ctrl+w: close", false)

	default:
		m.setStatus("unknown command "+name, true)
	}
	return nil
}

// setStatus sets the transient status line.
func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// statusText maps client errors to short status-bar wording.
func statusText(err error) string {
	switch {
	case errors.Is(err, registry.ErrCapacityExceeded):
		return "tab limit reached; close a tab first"
	case errors.Is(err, client.ErrRequestInFlight):
		return "still waiting on the previous question"
	case errors.Is(err, client.ErrRateLimited):
		return "slow down: too many questions per minute"
	default:
		return fmt.Sprintf("error: %v", err)
	}
}

// =============================================================================
// RUN
// =============================================================================

// Run starts the UI and blocks until it exits. Registry changes arriving
// from any goroutine are forwarded into the program as refresh messages.
func Run(c *client.Client) error {
	p := tea.NewProgram(NewModel(c), tea.WithAltScreen())
	c.Registry().Subscribe(func() {
		p.Send(refreshMsg{})
	})
	_, err := p.Run()
	return err
}
