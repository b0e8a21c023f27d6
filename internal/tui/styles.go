package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles holds the lipgloss styles of the chat view.
type Styles struct {
	Header     lipgloss.Style
	UserLabel  lipgloss.Style
	AgentLabel lipgloss.Style
	Timestamp  lipgloss.Style
	Chip       lipgloss.Style
	Thinking   lipgloss.Style
	Welcome    lipgloss.Style
	Status     lipgloss.Style
	Help       lipgloss.Style
	Input      lipgloss.Style
}

// DefaultStyles returns the default palette.
func DefaultStyles() Styles {
	return Styles{
		Header:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1),
		UserLabel:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		AgentLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
		Timestamp:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Chip:       lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("238")).Padding(0, 1),
		Thinking:   lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245")),
		Welcome:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(1, 2),
		Status:     lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		Help:       lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Input:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1),
	}
}
