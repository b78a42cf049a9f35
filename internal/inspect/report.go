// Package inspect renders a report for one settled job from the journal.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/herd/internal/journal"
)

// EntryGetter reads one journal entry.
type EntryGetter interface {
	Get(ctx context.Context, jobID string) (journal.Entry, error)
}

// Report is the structured JSON representation of a job report.
type Report struct {
	JobID       string    `json:"job_id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Multi       bool      `json:"multi"`
	Constraints []string  `json:"constraints"`
	Workers     []Worker  `json:"workers"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// Worker is one worker the job ran on.
type Worker struct {
	Index    int    `json:"index"`
	Identity string `json:"identity,omitempty"`
}

// BuildReport renders a terminal-friendly report for a job. identities maps
// worker index to account name and may be nil.
func BuildReport(ctx context.Context, src EntryGetter, jobID string, identities []string) (string, error) {
	report, err := gatherReportData(ctx, src, jobID, identities)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", report.JobID)
	fmt.Fprintf(&out, "Type        : %s\n", report.Type)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Mode        : %s\n", mode(report.Multi))
	fmt.Fprintf(&out, "Constraints : %s\n", renderList(report.Constraints))
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Completed   : %s\n", report.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration    : %s\n", time.Duration(report.DurationMS)*time.Millisecond)

	if len(report.Workers) == 0 {
		fmt.Fprintf(&out, "Workers     : <none>\n")
	} else {
		fmt.Fprintf(&out, "Workers     :\n")
		for _, w := range report.Workers {
			fmt.Fprintf(&out, "  - [%d] %s\n", w.Index, renderUnset(w.Identity, "<unknown>"))
		}
	}

	if report.Error != "" {
		fmt.Fprintf(&out, "Error       :\n")
		for _, line := range strings.Split(strings.TrimSpace(report.Error), "\n") {
			fmt.Fprintf(&out, "  %s\n", line)
		}
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src EntryGetter, jobID string, identities []string) (string, error) {
	report, err := gatherReportData(ctx, src, jobID, identities)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src EntryGetter, jobID string, identities []string) (*Report, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	e, err := src.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		JobID:       e.JobID,
		Type:        e.Type,
		Status:      string(e.Status),
		Multi:       e.Multi,
		Constraints: e.Constraints,
		Workers:     make([]Worker, 0, len(e.Workers)),
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		DurationMS:  e.CompletedAt.Sub(e.StartedAt).Milliseconds(),
	}
	if e.LastError != nil {
		report.Error = *e.LastError
	}
	for _, idx := range e.Workers {
		w := Worker{Index: idx}
		if idx >= 0 && idx < len(identities) {
			w.Identity = identities[idx]
		}
		report.Workers = append(report.Workers, w)
	}
	return report, nil
}

func mode(multi bool) string {
	if multi {
		return "multi"
	}
	return "single"
}

func renderList(items []string) string {
	if len(items) == 0 {
		return "<none>"
	}
	return strings.Join(items, ", ")
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
