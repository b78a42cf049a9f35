package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/herd/internal/dispatch"
)

//go:generate mockgen -destination=mocks/mock_services.go -package=mocks github.com/mattjoyce/herd/internal/scheduler JobService,HistoryPruner

// JobService is the slice of the manager the scheduler drives.
type JobService interface {
	OpenJobs() int
	ProcessJobs(ctx context.Context, n int) []*dispatch.Outcome
	SetConstraintValues(name string, value float64) bool
}

// HistoryPruner trims the job journal.
type HistoryPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
