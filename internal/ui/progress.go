package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// DefaultBarWidth is the character width of a rendered progress bar,
// excluding the percentage suffix.
const DefaultBarWidth = 30

// ClampFraction bounds a completion fraction to [0, 1].
func ClampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// barColor picks the fill color by completion: red below a third,
// yellow to two thirds, green above.
func barColor(f float64) lipgloss.Color {
	switch {
	case f < 0.34:
		return ColorError
	case f < 0.67:
		return ColorWarning
	default:
		return ColorSuccess
	}
}

// RenderBar draws a fixed-width bar with a trailing percentage, e.g.
// "██████░░░░ 60%". width <= 0 falls back to DefaultBarWidth.
func RenderBar(fraction float64, width int) string {
	if width <= 0 {
		width = DefaultBarWidth
	}
	f := ClampFraction(fraction)
	filled := int(f * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	styled := lipgloss.NewStyle().Foreground(barColor(f)).Render(bar)
	return fmt.Sprintf("%s %3.0f%%", styled, f*100)
}
