package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/herd/internal/constraint"
	"github.com/mattjoyce/herd/internal/events"
	"github.com/mattjoyce/herd/internal/journal"
	"github.com/mattjoyce/herd/internal/log"
	"github.com/mattjoyce/herd/internal/metrics"
	"github.com/mattjoyce/herd/internal/pool"
	"github.com/mattjoyce/herd/internal/queue"
)

const tracerName = "github.com/mattjoyce/herd/internal/dispatch"

var (
	ErrNoEligibleWorker = errors.New("no eligible worker")
	ErrConstraintPanic  = errors.New("constraint panicked")
)

// Recorder persists settled jobs. *journal.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options carries the optional collaborators. Nil fields are skipped.
type Options struct {
	Events  *events.Hub
	Metrics *metrics.Metrics
	Journal Recorder
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

type Dispatcher struct {
	queue       *queue.Queue
	pool        *pool.Pool
	constraints *constraint.Registry

	events  *events.Hub
	metrics *metrics.Metrics
	journal Recorder
	tracer  trace.Tracer
	logger  *slog.Logger

	// selectMu makes candidate resolution and filtering atomic across jobs.
	selectMu sync.Mutex
	running  sync.WaitGroup
}

func New(q *queue.Queue, p *pool.Pool, reg *constraint.Registry, opts Options) *Dispatcher {
	d := &Dispatcher{
		queue:       q,
		pool:        p,
		constraints: reg,
		events:      opts.Events,
		metrics:     opts.Metrics,
		journal:     opts.Journal,
		tracer:      opts.Tracer,
		logger:      opts.Logger,
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.logger == nil {
		d.logger = log.WithComponent("dispatch")
	}
	return d
}

// Submit dequeues up to n jobs and processes each in its own goroutine. It
// returns immediately with one Outcome per dequeued job.
func (d *Dispatcher) Submit(ctx context.Context, n int) []*Outcome {
	var out []*Outcome
	for i := 0; i < n; i++ {
		job, ok := d.queue.Dequeue()
		if !ok {
			break
		}
		o := newOutcome(job)
		out = append(out, o)
		d.running.Add(1)
		go func() {
			defer d.running.Done()
			res, workers, err := d.process(ctx, job)
			o.settle(res, workers, err)
		}()
	}
	if len(out) > 0 {
		d.logger.Debug("submitted jobs", "requested", n, "submitted", len(out))
	}
	return out
}

// Drain waits until every job started by Submit has settled, including its
// journal entry. Call it after the last Submit and before closing the journal.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process runs one job to completion on the calling goroutine.
func (d *Dispatcher) Process(ctx context.Context, job *queue.Job) (any, error) {
	res, _, err := d.process(ctx, job)
	return res, err
}

type jobEvent struct {
	JobID   string `json:"job_id"`
	Type    string `json:"type"`
	Workers []int  `json:"workers,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (d *Dispatcher) process(ctx context.Context, job *queue.Job) (any, []int, error) {
	started := time.Now()
	jobLogger := log.WithJob(job.ID).With("job_type", job.Type)

	ctx, span := d.tracer.Start(ctx, "dispatch.job", trace.WithAttributes(
		attribute.String("herd.job.id", job.ID),
		attribute.String("herd.job.type", job.Type),
		attribute.Bool("herd.job.multi", job.Multi),
		attribute.StringSlice("herd.job.constraints", job.Constraints),
		attribute.String("herd.job.bots", job.Bots.String()),
	))
	defer span.End()

	selected, bindings, err := d.selectWorkers(job)
	if err != nil {
		status := metrics.StatusInvalid
		eventType := events.JobFailed
		if errors.Is(err, ErrNoEligibleWorker) {
			status = metrics.StatusRejected
			eventType = events.JobRejected
			jobLogger.Info("job rejected", "error", err)
		} else {
			jobLogger.Warn("job failed before selection", "error", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		d.settle(ctx, job, status, eventType, nil, err, started)
		return nil, nil, err
	}

	indices := make([]int, len(selected))
	for i, w := range selected {
		indices[i] = w.Index
	}
	span.SetAttributes(attribute.IntSlice("herd.job.workers", indices))
	jobLogger.Info("job started", "workers", indices)
	d.events.Publish(events.JobStarted, jobEvent{JobID: job.ID, Type: job.Type, Workers: indices})

	d.metrics.HandlerStarted()
	res, herr := invoke(queue.ContextWithJob(ctx, job), job, queue.Target{Workers: selected, Multi: job.Multi})
	d.metrics.HandlerDone()

	outcome := constraint.Success
	if herr != nil {
		outcome = constraint.Failure
	}
	d.feedback(job, bindings, selected, outcome)

	if herr != nil {
		jobLogger.Warn("job failed", "error", herr, "duration", time.Since(started))
		span.RecordError(herr)
		span.SetStatus(codes.Error, "handler failed")
		d.settle(ctx, job, metrics.StatusFailed, events.JobFailed, indices, herr, started)
		return nil, indices, herr
	}

	jobLogger.Info("job succeeded", "duration", time.Since(started))
	d.settle(ctx, job, metrics.StatusSucceeded, events.JobSucceeded, indices, nil, started)
	return res, indices, nil
}

// selectWorkers resolves the selector and filters by constraints. Repeated
// indices in an explicit list keep their first position. The job's
// constraints are bound here so feedback goes to the registrations it was
// selected under. A panicking constraint fails only this job.
func (d *Dispatcher) selectWorkers(job *queue.Job) (survivors []*pool.Worker, bindings []constraint.Binding, err error) {
	d.selectMu.Lock()
	defer d.selectMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			survivors, bindings = nil, nil
			err = fmt.Errorf("job %s: %w: %v", job.ID, ErrConstraintPanic, r)
		}
	}()

	candidates, err := job.Bots.Resolve(d.pool.Count())
	if err != nil {
		return nil, nil, fmt.Errorf("job %s: %w", job.ID, err)
	}

	bindings = make([]constraint.Binding, len(job.Constraints))
	for i, name := range job.Constraints {
		bindings[i] = d.constraints.Bind(name)
	}

	seen := make(map[int]struct{}, len(candidates))
	for _, idx := range candidates {
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}

		w, err := d.pool.Get(idx)
		if err != nil {
			return nil, nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
		if eligible(w, job.Args, bindings) {
			survivors = append(survivors, w)
		}
	}

	if len(survivors) == 0 {
		return nil, nil, fmt.Errorf("%w: job %s (type %q) constraints %v over %d candidate(s)",
			ErrNoEligibleWorker, job.ID, job.Type, job.Constraints, len(seen))
	}
	if !job.Multi {
		survivors = survivors[:1]
	}
	return survivors, bindings, nil
}

func eligible(w *pool.Worker, args any, bindings []constraint.Binding) bool {
	for _, b := range bindings {
		if !b.Evaluate(w, args) {
			return false
		}
	}
	return true
}

// feedback applies outcome deltas once per (worker, constraint). Only applied
// deltas are counted, so unregistered names never become metric labels.
func (d *Dispatcher) feedback(job *queue.Job, bindings []constraint.Binding, workers []*pool.Worker, outcome constraint.Outcome) {
	for _, w := range workers {
		for _, b := range bindings {
			if d.applyFeedback(job, b, w, outcome) {
				d.metrics.Feedback(b.Name(), outcome.String())
			}
		}
	}
}

func (d *Dispatcher) applyFeedback(job *queue.Job, b constraint.Binding, w *pool.Worker, outcome constraint.Outcome) (applied bool) {
	defer func() {
		if r := recover(); r != nil {
			applied = false
			d.logger.Error("constraint feedback panicked",
				"job_id", job.ID, "constraint", b.Name(), "worker_index", w.Index, "panic", r)
		}
	}()
	return b.ApplyFeedback(w, job.Args, outcome)
}

func (d *Dispatcher) settle(ctx context.Context, job *queue.Job, status, eventType string, workers []int, err error, started time.Time) {
	completed := time.Now()
	d.metrics.ObserveJob(job.Type, status, completed.Sub(started))

	ev := jobEvent{JobID: job.ID, Type: job.Type, Workers: workers}
	if err != nil {
		ev.Error = err.Error()
	}
	d.events.Publish(eventType, ev)

	if d.journal == nil {
		return
	}
	entry := journal.Entry{
		JobID:       job.ID,
		Type:        job.Type,
		Status:      journal.Status(status),
		Multi:       job.Multi,
		Constraints: job.Constraints,
		Workers:     workers,
		StartedAt:   started,
		CompletedAt: completed,
	}
	if err != nil {
		msg := err.Error()
		entry.LastError = &msg
	}
	if jerr := d.journal.Record(context.WithoutCancel(ctx), entry); jerr != nil {
		d.logger.Error("failed to record job", "job_id", job.ID, "error", jerr)
	}
}

func invoke(ctx context.Context, job *queue.Job, target queue.Target) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return job.Fn(ctx, job.Args, target)
}
