package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps every style used by the watch view in one place.
type Theme struct {
	StatusOK     lipgloss.Style
	StatusWarn   lipgloss.Style
	StatusFailed lipgloss.Style
	StatusDead   lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Arrow     lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	accent := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusWarn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusDead:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Arrow:     lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")).Bold(true),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// statusStyle colors a job outcome.
func (t Theme) statusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded":
		return t.StatusOK
	case "skipped", "queued":
		return t.StatusWarn
	case "dead":
		return t.StatusFailed
	default:
		return t.Dim
	}
}
