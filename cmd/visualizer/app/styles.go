package app

import "github.com/charmbracelet/lipgloss"

const (
	subtleColor  = "240"
	focusColor   = "#5fafff"
	errorColor   = "#ff5f5f"
	warningColor = "#ffaf00"
	okColor      = "#5fd75f"
	textColor    = "#c0c0c0"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(textColor))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(subtleColor))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(errorColor))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(warningColor))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(okColor))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color(subtleColor))

	focusedPaneStyle = paneStyle.
				BorderForeground(lipgloss.Color(focusColor))

	gutterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(subtleColor)).
			Align(lipgloss.Right)
)

// paneFrame returns the border style of a pane.
func paneFrame(focused bool) lipgloss.Style {
	if focused {
		return focusedPaneStyle
	}
	return paneStyle
}
