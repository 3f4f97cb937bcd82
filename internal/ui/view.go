// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/campuschat/internal/model"
)

const (
	maxTabTitleWidth = 18
	chromeLines      = 4 // tab bar, input, status bar, separator
)

// =============================================================================
// LAYOUT
// =============================================================================

// resize recomputes component dimensions after a window size change.
func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	vpHeight := m.height - chromeLines
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
	}
	m.input.Width = m.width - 4
}

// refreshViewport re-renders the active session's transcript.
func (m *Model) refreshViewport(gotoBottom bool) {
	if !m.ready {
		return
	}
	active := m.client.Registry().Active()
	if active == nil {
		m.viewport.SetContent("")
		return
	}

	var b strings.Builder
	for i, msg := range active.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
	}
	m.viewport.SetContent(b.String())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

// =============================================================================
// RENDERING
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return strings.Join([]string{
		m.renderTabBar(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
	}, "\n")
}

// renderTabBar draws one cell per open session. A pending marker flags
// tabs with a request in flight, including background ones.
func (m Model) renderTabBar() string {
	reg := m.client.Registry()
	activeID := reg.ActiveID()

	var cells []string
	for i, s := range reg.Sessions() {
		title := s.Title
		if title == "" {
			title = "New chat"
		}
		title = runewidth.Truncate(title, maxTabTitleWidth, "…")
		label := fmt.Sprintf("%d:%s", i+1, title)
		if m.client.HasPending(s.ID) {
			label += tabPendingMarker
		}
		if s.ID == activeID {
			cells = append(cells, tabActiveStyle.Render(label))
		} else {
			cells = append(cells, tabInactiveStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

// renderMessage draws one transcript entry.
func (m Model) renderMessage(msg *model.Message) string {
	var b strings.Builder

	switch msg.Role {
	case model.RoleUser:
		b.WriteString(userLabelStyle.Render("You: "))
		b.WriteString(msg.Text)

	case model.RoleAssistant:
		b.WriteString(assistantLabelStyle.Render("Assistant: "))
		switch {
		case msg.IsLoading:
			b.WriteString(m.spin.View())
			b.WriteString(mutedStyle.Render(" thinking..."))
		case msg.IsError:
			b.WriteString(errorTextStyle.Render(msg.Text))
		default:
			b.WriteString(msg.Text)
			if msg.IsStreaming {
				b.WriteString(mutedStyle.Render(" ▌"))
			}
		}
		if msg.LowConfidence {
			b.WriteString("\n")
			b.WriteString(mutedStyle.Render("(low confidence: this answer may not be well supported by course material)"))
		}
		for _, c := range msg.Citations {
			b.WriteString("\n")
			b.WriteString(citationStyle.Render(renderCitation(c)))
		}
	}

	b.WriteString("\n")
	return b.String()
}

// renderCitation formats one source reference.
func renderCitation(c model.Citation) string {
	label := c.Title
	if label == "" && c.PostNumber > 0 {
		label = fmt.Sprintf("@%d", c.PostNumber)
	}
	if c.URL != "" {
		return fmt.Sprintf("  [%s] %s", label, c.URL)
	}
	return fmt.Sprintf("  [%s]", label)
}

// renderInput draws the input line.
func (m Model) renderInput() string {
	return "> " + m.input.View()
}

// renderStatusBar draws the bottom line: transient notice or session info.
func (m Model) renderStatusBar() string {
	if m.status != "" {
		if m.statusErr {
			return statusErrStyle.Render(m.status)
		}
		return statusBarStyle.Render(m.status)
	}

	active := m.client.Registry().Active()
	topic := "no topic"
	if active != nil && active.Topic != "" {
		topic = active.Topic
	}
	info := fmt.Sprintf("[%s] %d/%d tabs | tab: switch | /help",
		topic, m.client.Registry().Len(), m.client.Registry().Cap())
	return statusBarStyle.Render(runewidth.Truncate(info, m.width, ""))
}
