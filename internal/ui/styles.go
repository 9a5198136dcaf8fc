// Package ui provides consistent styling for the waycursor CLI
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	// Primary colors
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorInfo      = lipgloss.Color("86")  // Cyan

	// Neutral colors
	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
	ColorMuted  = lipgloss.Color("238") // Dark gray
)

// Base styles - building blocks for other styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorMuted).
			Padding(0, 1)

	KeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)
)

// Table cell styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Foreground(ColorPrimary).
				Bold(true).
				Padding(0, 1)

	TableNameStyle = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true).
			Padding(0, 1)

	TableAnimatedStyle = lipgloss.NewStyle().
				Foreground(ColorSecondary).
				Padding(0, 1)

	TableCellStyle = lipgloss.NewStyle().
			Foreground(ColorText).
			Padding(0, 1)
)

// FormatAppHeader renders a title bar followed by a status line.
func FormatAppHeader(title, status string) string {
	header := TitleStyle.Render(title)
	if status == "" {
		return header
	}
	return header + " " + SubtleStyle.Render(status)
}

// FormatKeyValue renders one "key: value" line of a settings dump.
func FormatKeyValue(key, value string) string {
	if value == "" {
		value = SubtleStyle.Render("(unset)")
	}
	return "  " + KeyStyle.Render(key) + ": " + TextStyle.Render(value)
}

// FormatSection renders a section heading such as "[display]".
func FormatSection(name string) string {
	return HeaderStyle.Render("[" + name + "]")
}
