// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// STYLES
// =============================================================================

var (
	colorAccent = lipgloss.Color("205")
	colorMuted  = lipgloss.Color("241")
	colorUser   = lipgloss.Color("39")
	colorError  = lipgloss.Color("196")
	colorWarn   = lipgloss.Color("214")

	tabActiveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(colorAccent).
			Padding(0, 1).
			Bold(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(colorMuted).
				Padding(0, 1)

	tabPendingMarker = lipgloss.NewStyle().
				Foreground(colorWarn).
				Render("*")

	userLabelStyle = lipgloss.NewStyle().
			Foreground(colorUser).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(colorAccent).
				Bold(true)

	errorTextStyle = lipgloss.NewStyle().
			Foreground(colorError)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	citationStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	statusErrStyle = lipgloss.NewStyle().
			Foreground(colorError)
)
