package tui

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	ColorIce   = lipgloss.Color("#A8D8EA") // accents
	ColorDeep  = lipgloss.Color("#596E79") // borders and secondary text
	ColorText  = lipgloss.Color("#E0E0E0")
	ColorAlert = lipgloss.Color("#FF6B6B") // errors, drops
	ColorGood  = lipgloss.Color("#4ECDC4") // success, accepts
	ColorWarn  = lipgloss.Color("#FFE66D")
	ColorMuted = lipgloss.Color("#6c757d")
)

// Styles
var (
	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorIce).
			Bold(true)

	StyleSubtitle = lipgloss.NewStyle().
			Foreground(ColorDeep).
			Italic(true)

	StyleStatusGood = lipgloss.NewStyle().Foreground(ColorGood).Bold(true)
	StyleStatusBad  = lipgloss.NewStyle().Foreground(ColorAlert).Bold(true)
	StyleStatusWarn = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)

	StyleTableHeader = lipgloss.NewStyle().
				Foreground(ColorIce).
				Bold(true).
				Padding(0, 1)

	StyleTableRow = lipgloss.NewStyle().
			Foreground(ColorText).
			Padding(0, 1)

	StyleTableNumber = StyleTableRow.Align(lipgloss.Right)

	StyleMuted = lipgloss.NewStyle().Foreground(ColorMuted)
)
