package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herd/internal/events"
)

const workerRows = 12

// WorkerState tracks one pool member.
type WorkerState struct {
	Index     int
	Identity  string
	Kind      string
	Running   int
	Succeeded int
	Failed    int
	LastJob   time.Time
}

// ResetState is the last observed reset of one constraint.
type ResetState struct {
	Name  string
	Value float64
	At    time.Time
}

// WorkerTracker folds worker and constraint events into per-worker state.
type WorkerTracker struct {
	workers map[int]*WorkerState
	resets  map[string]*ResetState
}

func NewWorkerTracker() *WorkerTracker {
	return &WorkerTracker{
		workers: make(map[int]*WorkerState),
		resets:  make(map[string]*ResetState),
	}
}

// Apply updates the tracker from e.
func (t *WorkerTracker) Apply(e events.Event) {
	switch e.Type {
	case events.WorkerRegistered:
		var data struct {
			Index    int    `json:"worker_index"`
			Identity string `json:"worker_identity"`
			Kind     string `json:"kind"`
		}
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		w := t.get(data.Index)
		w.Identity = data.Identity
		w.Kind = data.Kind

	case events.ConstraintReset:
		var data struct {
			Name  string  `json:"constraint"`
			Value float64 `json:"value"`
		}
		if err := json.Unmarshal(e.Data, &data); err != nil || data.Name == "" {
			return
		}
		t.resets[data.Name] = &ResetState{Name: data.Name, Value: data.Value, At: e.At}

	case events.JobStarted, events.JobSucceeded, events.JobFailed:
		var data struct {
			Workers []int `json:"workers"`
		}
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		for _, idx := range data.Workers {
			w := t.get(idx)
			switch e.Type {
			case events.JobStarted:
				w.Running++
			case events.JobSucceeded:
				w.Running = max(w.Running-1, 0)
				w.Succeeded++
				w.LastJob = e.At
			case events.JobFailed:
				w.Running = max(w.Running-1, 0)
				w.Failed++
				w.LastJob = e.At
			}
		}
	}
}

func (t *WorkerTracker) get(index int) *WorkerState {
	w, ok := t.workers[index]
	if !ok {
		w = &WorkerState{Index: index}
		t.workers[index] = w
	}
	return w
}

// Worker returns the state for index, or nil if it was never seen.
func (t *WorkerTracker) Worker(index int) *WorkerState {
	return t.workers[index]
}

// Len returns the number of workers seen.
func (t *WorkerTracker) Len() int {
	return len(t.workers)
}

func renderWorkers(tracker *WorkerTracker, offset int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(tracker.workers) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("WORKERS"),
			theme.Muted.Render("  No workers registered since watch started..."),
		)
		return theme.Frame.Width(innerWidth).Render(content)
	}

	indices := sortedKeys(tracker.workers)
	offset = min(max(offset, 0), max(len(indices)-1, 0))

	lines := []string{theme.Title.Render(fmt.Sprintf("WORKERS (%d)", len(indices)))}
	for _, idx := range indices[offset:min(offset+workerRows, len(indices))] {
		lines = append(lines, renderWorkerRow(tracker.workers[idx], theme))
	}
	if rest := len(indices) - offset - workerRows; rest > 0 {
		lines = append(lines, theme.Muted.Render(fmt.Sprintf("  ... %d more", rest)))
	}

	if len(tracker.resets) > 0 {
		names := make([]string, 0, len(tracker.resets))
		for name := range tracker.resets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := tracker.resets[name]
			lines = append(lines, theme.Muted.Render(fmt.Sprintf("  reset %s = %g at %s", r.Name, r.Value, r.At.Local().Format("15:04:05"))))
		}
	}

	return theme.Frame.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderWorkerRow(w *WorkerState, theme Theme) string {
	state := theme.Muted.Render("[idle]")
	if w.Running > 0 {
		state = theme.Running.Render(fmt.Sprintf("[%d running]", w.Running))
	}

	last := ""
	if !w.LastJob.IsZero() {
		last = theme.Muted.Render("last " + formatAgo(time.Since(w.LastJob).Round(time.Second)))
	}

	identity := w.Identity
	if identity == "" {
		identity = "?"
	}
	return fmt.Sprintf(" %3d  %-28s %-10s %s  %s %s  %s",
		w.Index,
		identity,
		w.Kind,
		state,
		theme.Succeeded.Render(fmt.Sprintf("ok %d", w.Succeeded)),
		theme.Failed.Render(fmt.Sprintf("fail %d", w.Failed)),
		last,
	)
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
