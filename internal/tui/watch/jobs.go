package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herd/internal/events"
)

const (
	statusQueued    = "queued"
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusRejected  = "rejected"

	maxTrackedJobs = 200
	jobRows        = 10
)

// JobState tracks one job as seen through events.
type JobState struct {
	ID        string
	Type      string
	Bots      string
	Status    string
	Workers   []int
	Error     string
	Enqueued  time.Time
	StartTime time.Time
	EndTime   time.Time
}

// JobTracker folds job events into per-job state and status totals.
type JobTracker struct {
	jobs   map[string]*JobState
	order  []string
	totals map[string]int
}

func NewJobTracker() *JobTracker {
	return &JobTracker{
		jobs:   make(map[string]*JobState),
		totals: make(map[string]int),
	}
}

type jobPayload struct {
	JobID   string `json:"job_id"`
	Type    string `json:"type"`
	Bots    string `json:"bots"`
	Workers []int  `json:"workers"`
	Error   string `json:"error"`
}

// Apply updates the tracker from e. Non-job events are ignored.
func (t *JobTracker) Apply(e events.Event) {
	var data jobPayload
	if err := json.Unmarshal(e.Data, &data); err != nil || data.JobID == "" {
		return
	}

	job := t.get(data.JobID)
	if data.Type != "" {
		job.Type = data.Type
	}
	if data.Bots != "" {
		job.Bots = data.Bots
	}

	switch e.Type {
	case events.JobEnqueued:
		job.Status = statusQueued
		job.Enqueued = e.At
	case events.JobStarted:
		job.Status = statusRunning
		job.StartTime = e.At
		job.Workers = data.Workers
	case events.JobSucceeded:
		t.finish(job, statusSucceeded, e.At, data)
	case events.JobFailed:
		t.finish(job, statusFailed, e.At, data)
	case events.JobRejected:
		t.finish(job, statusRejected, e.At, data)
	}
}

func (t *JobTracker) finish(job *JobState, status string, at time.Time, data jobPayload) {
	job.Status = status
	job.EndTime = at
	job.Error = data.Error
	if len(data.Workers) > 0 {
		job.Workers = data.Workers
	}
	t.totals[status]++
}

func (t *JobTracker) get(id string) *JobState {
	if job, ok := t.jobs[id]; ok {
		return job
	}
	job := &JobState{ID: id, Status: statusQueued}
	t.jobs[id] = job
	t.order = append(t.order, id)
	if len(t.order) > maxTrackedJobs {
		delete(t.jobs, t.order[0])
		t.order = t.order[1:]
	}
	return job
}

// Recent returns up to n jobs, newest first.
func (t *JobTracker) Recent(n int) []*JobState {
	out := make([]*JobState, 0, n)
	for i := len(t.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, t.jobs[t.order[i]])
	}
	return out
}

// Running returns the jobs currently in a handler, oldest first.
func (t *JobTracker) Running() []*JobState {
	var out []*JobState
	for _, id := range t.order {
		if job := t.jobs[id]; job.Status == statusRunning {
			out = append(out, job)
		}
	}
	return out
}

// Total returns how many jobs settled with status since the TUI started.
func (t *JobTracker) Total(status string) int {
	return t.totals[status]
}

func renderJobs(tracker *JobTracker, theme Theme, width int) string {
	innerWidth := width - 4

	title := theme.Title.Render("JOBS")
	for _, status := range []string{statusSucceeded, statusFailed, statusRejected} {
		title += theme.forStatus(status).Render(fmt.Sprintf("  %s %d", status, tracker.Total(status)))
	}

	recent := tracker.Recent(jobRows)
	if len(recent) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Muted.Render("  No job activity yet..."),
		)
		return theme.Frame.Width(innerWidth).Render(content)
	}

	columns := []table.Column{
		{Title: "Job", Width: 10},
		{Title: "Type", Width: 16},
		{Title: "Status", Width: 10},
		{Title: "Workers", Width: 12},
		{Title: "Time", Width: 10},
		{Title: "Error", Width: max(innerWidth-70, 10)},
	}
	rows := make([]table.Row, len(recent))
	for i, job := range recent {
		rows[i] = table.Row{
			shortID(job.ID),
			job.Type,
			job.Status,
			formatWorkers(job.Workers),
			jobDuration(job),
			job.Error,
		}
	}

	styles := table.DefaultStyles()
	styles.Header = theme.Column.Inherit(styles.Header)
	styles.Selected = lipgloss.NewStyle()
	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
		table.WithStyles(styles),
	)

	content := lipgloss.JoinVertical(lipgloss.Left, title, tbl.View())
	return theme.Frame.Width(innerWidth).Render(content)
}

func jobDuration(job *JobState) string {
	switch {
	case job.StartTime.IsZero():
		return "-"
	case job.EndTime.IsZero():
		return time.Since(job.StartTime).Round(time.Millisecond).String()
	default:
		return job.EndTime.Sub(job.StartTime).Round(time.Millisecond).String()
	}
}

func formatWorkers(indices []int) string {
	if len(indices) == 0 {
		return "-"
	}
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return strings.Join(parts, ",")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// sortedKeys returns map keys in ascending order.
func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
