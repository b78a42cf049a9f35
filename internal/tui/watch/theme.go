// Package watch implements the herd watch TUI: a live view of workers, jobs
// and the event stream fed by the server's /events endpoint.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles of every pane. Job outcome styles are shared by the
// job table, the worker list and the event log.
type Theme struct {
	Succeeded lipgloss.Style
	Running   lipgloss.Style
	Failed    lipgloss.Style
	Rejected  lipgloss.Style

	Frame  lipgloss.Style
	Title  lipgloss.Style
	Column lipgloss.Style
	Muted  lipgloss.Style
	Accent lipgloss.Style
	Spark  lipgloss.Style
}

func NewDefaultTheme() Theme {
	edge := lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F2"}
	muted := lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#6C6C6C"}

	return Theme{
		Succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("#43BF6D")),
		Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E8C547")),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E05561")),
		Rejected:  lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")),

		Frame:  lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(edge),
		Title:  lipgloss.NewStyle().Bold(true).Foreground(edge).Padding(0, 1),
		Column: lipgloss.NewStyle().Bold(true).Underline(true),
		Muted:  lipgloss.NewStyle().Foreground(muted),
		Accent: lipgloss.NewStyle().Foreground(lipgloss.Color("#56B6C2")),
		Spark:  lipgloss.NewStyle().Foreground(lipgloss.Color("#56B6C2")),
	}
}

// forStatus picks the outcome style for a tracked job status.
func (t Theme) forStatus(status string) lipgloss.Style {
	switch status {
	case statusSucceeded:
		return t.Succeeded
	case statusRunning:
		return t.Running
	case statusFailed:
		return t.Failed
	case statusRejected:
		return t.Rejected
	default:
		return t.Muted
	}
}
