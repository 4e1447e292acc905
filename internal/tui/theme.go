package tui

import "github.com/charmbracelet/lipgloss"

// Theme keeps every color the monitor uses in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusQueued  lipgloss.Style
	StatusDead    lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusQueued:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		StatusDead:    lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Symbol renders the status glyph for a delivery.
func (t Theme) Symbol(status string) string {
	switch status {
	case "queued":
		return t.StatusQueued.Render("○")
	case "retrying":
		return t.StatusRunning.Render("◑")
	case "succeeded":
		return t.StatusOK.Render("●")
	case "exhausted":
		return t.StatusFailed.Render("∅")
	case "abandoned":
		return t.StatusDead.Render("◔")
	default:
		return "○"
	}
}
