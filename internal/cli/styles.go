// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared console styles.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ConfigureColors sets the lipgloss profile. Call once at startup.
func ConfigureColors(noColor bool) {
	lipgloss.SetColorProfile(GetColorProfile(noColor))
}

var (
	// TitleStyle is used for banners and table headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// SuccessStyle is used for completed commands
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")) // Green

	// ErrorStyle is used for error lines
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for warnings and the interrupt marker
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Yellow/Orange

	// DimStyle is used for hints and the reasoning channel
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")) // Dim gray

	// InfoStyle is used for neutral information
	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")) // Blue

	// SeparatorStyle is used for visual separators
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // Dark gray
)

// separator returns a horizontal rule of width cells.
func separator(width int) string {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	if width > 80 {
		width = 80
	}
	return strings.Repeat("─", width)
}
