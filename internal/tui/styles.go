// Package tui implements the `memcore inspect` terminal dashboard: a
// bubbletea browser over recent query traces and the lifecycle stage
// counts, adapted from the teacher's internal/ui package (same
// bubbletea Model/Update/View shape, same lipgloss palette approach)
// generalized from indexing-progress rendering to trace inspection.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette, carried over from the teacher's lime-green accent
// theme (internal/ui/styles.go).
const (
	colorLime     = "154"
	colorLimeDim  = "106"
	colorWhite    = "255"
	colorGray     = "245"
	colorDarkGray = "238"
	colorRed      = "196"
	colorYellow   = "220"
)

// Styles holds the lipgloss styles the inspector renders with.
type Styles struct {
	Header    lipgloss.Style
	Selected  lipgloss.Style
	Dim       lipgloss.Style
	ErrorText lipgloss.Style
	WarnText  lipgloss.Style
	Border    lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns the inspector's styled components.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorWhite)),
		Selected:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorLime)),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray)),
		ErrorText: lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		WarnText:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorDarkGray)).
			Padding(0, 1),
		Label: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
	}
}
