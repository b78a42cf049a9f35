package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herd/internal/events"
)

const eventRows = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Muted.Render("  Waiting for events..."),
		)
		return theme.Frame.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventRows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Frame.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Muted.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.JobSucceeded:
		typeStyle = theme.Succeeded
	case events.JobFailed:
		typeStyle = theme.Failed
	case events.JobRejected:
		typeStyle = theme.Rejected
	case events.JobStarted:
		typeStyle = theme.Running
	case events.SchedulerTick, events.ConstraintReset:
		typeStyle = theme.Accent
	default:
		typeStyle = theme.Muted
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if jobID, ok := data["job_id"].(string); ok {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(jobID)))
	}
	if typ, ok := data["type"].(string); ok {
		parts = append(parts, typ)
	}
	if workers, ok := data["workers"].([]any); ok && len(workers) > 0 {
		parts = append(parts, fmt.Sprintf("workers=%v", workers))
	}
	if identity, ok := data["worker_identity"].(string); ok {
		parts = append(parts, identity)
	}
	if name, ok := data["constraint"].(string); ok {
		parts = append(parts, fmt.Sprintf("%s=%v", name, data["value"]))
	}
	if errText, ok := data["error"].(string); ok && errText != "" {
		if len(errText) > 60 {
			errText = errText[:60] + "..."
		}
		parts = append(parts, errText)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
