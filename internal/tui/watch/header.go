package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState mirrors the last /healthz response.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	OpenJobs      int
	Workers       int
	Connected     bool
	LastCheck     time.Time
}

// state names the condition shown in the header, worst first.
func (h HealthState) state(activity Activity, now time.Time) (string, bool) {
	switch {
	case !h.Connected:
		return "disconnected", false
	case h.Status != "ok" && h.Status != "":
		return "degraded: " + h.Status, false
	case activity.Stalled(now):
		return "scheduler idle", false
	}
	return "dispatching", true
}

func renderHeader(health HealthState, running int, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	label, good := health.state(activity, now)
	stateStyle := theme.Succeeded
	if !good {
		stateStyle = theme.Failed
	}

	left := theme.Title.Render("HERD WATCH") + " " + stateStyle.Render("● "+label)
	right := theme.Muted.Render(now.Format("15:04:05"))
	gap := max(innerWidth-lipgloss.Width(left)-lipgloss.Width(right)-1, 1)
	top := left + strings.Repeat(" ", gap) + right

	counts := fmt.Sprintf(" up %s   workers %d   open %d   running %s",
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Workers,
		health.OpenJobs,
		theme.Running.Render(fmt.Sprint(running)),
	)

	last := "no events yet"
	if t := activity.LastEvent(); !t.IsZero() {
		last = "last event " + formatAgo(now.Sub(t).Round(time.Second))
	}
	pulse := fmt.Sprintf(" %s %s  %s",
		theme.Spark.Render("["+activity.Sparkline(now)+"]"),
		theme.Muted.Render(fmt.Sprintf("%d/min", activity.Total())),
		theme.Muted.Render(last),
	)

	return theme.Frame.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, top, counts, pulse))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%02dh", int(d.Hours())/24, int(d.Hours())%24)
}
