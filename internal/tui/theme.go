package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tonylturner/xcpmaster/internal/xcp/session"
)

// Theme is the monitor color palette (Tokyo Night).
type Theme struct {
	Text    lipgloss.Color
	Dim     lipgloss.Color
	Border  lipgloss.Color
	Accent  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color
	Select  lipgloss.Color
}

// DefaultTheme is the dark palette used by the monitor.
var DefaultTheme = Theme{
	Text:    lipgloss.Color("#c0caf5"),
	Dim:     lipgloss.Color("#565f89"),
	Border:  lipgloss.Color("#414868"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Success: lipgloss.Color("#9ece6a"),
	Warning: lipgloss.Color("#e0af68"),
	Error:   lipgloss.Color("#f7768e"),
	Info:    lipgloss.Color("#7dcfff"),
	Select:  lipgloss.Color("#283457"),
}

// Styles are the lipgloss styles derived from a Theme.
type Styles struct {
	Base       lipgloss.Style
	Dim        lipgloss.Style
	Title      lipgloss.Style
	Header     lipgloss.Style
	Success    lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
	Info       lipgloss.Style
	Selected   lipgloss.Style
	KeyBinding lipgloss.Style
	KeyHint    lipgloss.Style
	Panel      lipgloss.Style
	Spark      lipgloss.Style
	Footer     lipgloss.Style
}

// NewStyles builds Styles from t.
func NewStyles(t Theme) Styles {
	return Styles{
		Base:    lipgloss.NewStyle().Foreground(t.Text),
		Dim:     lipgloss.NewStyle().Foreground(t.Dim),
		Title:   lipgloss.NewStyle().Foreground(t.Accent).Bold(true),
		Header:  lipgloss.NewStyle().Foreground(t.Info).Bold(true),
		Success: lipgloss.NewStyle().Foreground(t.Success),
		Warning: lipgloss.NewStyle().Foreground(t.Warning),
		Error:   lipgloss.NewStyle().Foreground(t.Error),
		Info:    lipgloss.NewStyle().Foreground(t.Info),
		Selected: lipgloss.NewStyle().
			Foreground(t.Text).
			Background(t.Select).
			Bold(true),
		KeyBinding: lipgloss.NewStyle().
			Foreground(t.Accent).
			Bold(true),
		KeyHint: lipgloss.NewStyle().Foreground(t.Dim),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(0, 1),
		Spark:  lipgloss.NewStyle().Foreground(t.Success),
		Footer: lipgloss.NewStyle().Foreground(t.Dim).MarginTop(1),
	}
}

// DefaultStyles uses DefaultTheme.
var DefaultStyles = NewStyles(DefaultTheme)

// StateStyle colors a session state.
func (s Styles) StateStyle(state session.State) lipgloss.Style {
	switch state {
	case session.StateRun:
		return s.Success.Bold(true)
	case session.StateConnected, session.StateStop:
		return s.Info
	case session.StateError:
		return s.Error.Bold(true)
	default:
		return s.Dim
	}
}
