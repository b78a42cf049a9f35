package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/dispatch"
	"github.com/mattjoyce/herd/internal/events"
)

const pruneInterval = time.Hour

// Scheduler submits queued jobs on every tick and runs periodic constraint
// resets and journal pruning.
type Scheduler struct {
	cfg    *config.Config
	jobs   JobService
	pruner HistoryPruner
	events *events.Hub
	logger *slog.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	nextReset map[string]time.Time
	lastPrune time.Time
}

// New creates a Scheduler. pruner may be nil when the journal is disabled.
func New(cfg *config.Config, jobs JobService, pruner HistoryPruner, hub *events.Hub, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		jobs:      jobs,
		pruner:    pruner,
		events:    hub,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		nextReset: make(map[string]time.Time),
	}
}

// Start schedules the first constraint resets and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "tick_interval", s.cfg.Service.TickInterval, "batch_size", s.cfg.Service.BatchSize)
	s.planResets(s.now())

	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop ends the tick loop and waits for in-flight outcome watchers. It does
// not wait for handlers; Manager.Drain does.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Service.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs a single scheduling pass.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	open := s.jobs.OpenJobs()
	s.events.Publish(events.SchedulerTick, map[string]any{"at": now.UTC(), "open_jobs": open})

	if open > 0 {
		n := open
		if batch := s.cfg.Service.BatchSize; batch > 0 && n > batch {
			n = batch
		}
		outcomes := s.jobs.ProcessJobs(ctx, n)
		s.logger.Debug("Submitted jobs", "open", open, "submitted", len(outcomes))
		if len(outcomes) > 0 {
			s.wg.Add(1)
			go s.watch(ctx, outcomes)
		}
	}

	s.runResets(now)

	if s.pruner != nil && s.cfg.Journal.Retention > 0 && now.Sub(s.lastPrune) >= pruneInterval {
		s.lastPrune = now
		n, err := s.pruner.Prune(ctx, s.cfg.Journal.Retention)
		if err != nil {
			s.logger.Error("Failed to prune job history", "error", err)
		} else if n > 0 {
			s.logger.Info("Pruned job history", "deleted", n)
		}
	}
}

// watch logs failed outcomes as they settle.
func (s *Scheduler) watch(ctx context.Context, outcomes []*dispatch.Outcome) {
	defer s.wg.Done()
	for _, o := range outcomes {
		select {
		case <-o.Done():
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
		if err := o.Err(); err != nil {
			s.logger.Warn("Job did not succeed", "job_id", o.Job.ID, "type", o.Job.Type, "error", err)
		}
	}
}

func (s *Scheduler) planResets(now time.Time) {
	for _, c := range s.cfg.Constraints {
		if c.Reset == nil {
			continue
		}
		base, err := parseScheduleEvery(c.Reset.Every)
		if err != nil {
			s.logger.Error("Invalid reset interval for constraint", "constraint", c.Name, "interval", c.Reset.Every, "error", err)
			continue
		}
		s.nextReset[c.Name] = now.Add(calculateJitteredInterval(base, c.Reset.Jitter))
	}
}

func (s *Scheduler) runResets(now time.Time) {
	for _, c := range s.cfg.Constraints {
		due, ok := s.nextReset[c.Name]
		if !ok || now.Before(due) {
			continue
		}
		base, _ := parseScheduleEvery(c.Reset.Every)
		s.nextReset[c.Name] = now.Add(calculateJitteredInterval(base, c.Reset.Jitter))

		if !s.jobs.SetConstraintValues(c.Name, c.Reset.Value) {
			s.logger.Warn("Reset skipped, constraint not registered", "constraint", c.Name)
			continue
		}
		s.logger.Info("Reset constraint values", "constraint", c.Name, "value", c.Reset.Value, "next", s.nextReset[c.Name])
	}
}

// calculateJitteredInterval adds a random jitter to the base interval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	randomJitter := time.Duration(rand.Int63n(jitter.Nanoseconds()))
	return baseInterval + randomJitter
}

// parseScheduleEvery converts the 'every' string from config to a base duration.
func parseScheduleEvery(every string) (time.Duration, error) {
	return config.ParseInterval(every)
}
