package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// Theme defines the colour palette used for terminal output.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
	Border  lipgloss.Color
}

// DefaultTheme returns the default colour palette.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("#7C3AED"),
		Success: lipgloss.Color("#A6E3A1"),
		Warning: lipgloss.Color("#F9E2AF"),
		Error:   lipgloss.Color("#F38BA8"),
		Muted:   lipgloss.Color("#6C7086"),
		Border:  lipgloss.Color("#45475A"),
	}
}

// Styles holds the lipgloss styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Muted  lipgloss.Style
	Border lipgloss.Style
	theme  Theme
}

// NewStyles builds styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).MarginTop(1),
		Header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Cell:   lipgloss.NewStyle().Padding(0, 1),
		Muted:  lipgloss.NewStyle().Foreground(t.Muted),
		Border: lipgloss.NewStyle().Foreground(t.Border),
		theme:  t,
	}
}

// Status returns the cell style for a sync status.
func (s Styles) Status(status domain.SyncStatus) lipgloss.Style {
	switch status {
	case domain.StatusSuccess:
		return s.Cell.Foreground(s.theme.Success)
	case domain.StatusFailed:
		return s.Cell.Foreground(s.theme.Error)
	case domain.StatusQueued, domain.StatusSyncing:
		return s.Cell.Foreground(s.theme.Warning)
	default:
		return s.Cell.Foreground(s.theme.Muted)
	}
}
