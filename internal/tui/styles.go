package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarn    = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(colorPrimary).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	labelStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	okStyle    = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	errStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)

	helpKeyStyle  = lipgloss.NewStyle().Foreground(colorPrimary)
	helpDescStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

func scoreStyle(v float64) lipgloss.Style {
	switch {
	case v >= 70:
		return okStyle
	case v >= 40:
		return warnStyle
	default:
		return errStyle
	}
}
