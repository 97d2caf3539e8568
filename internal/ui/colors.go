package ui

import "github.com/charmbracelet/lipgloss"

// Standard ANSI palette. Kept to the 16-color range so output degrades
// gracefully on basic terminals.
const (
	ColorSuccess   = lipgloss.Color("2") // green
	ColorError     = lipgloss.Color("1") // red
	ColorWarning   = lipgloss.Color("3") // yellow
	ColorInfo      = lipgloss.Color("6") // cyan
	ColorPrimary   = lipgloss.Color("7") // white
	ColorSecondary = lipgloss.Color("4") // blue
	ColorMuted     = lipgloss.Color("8") // gray
)
