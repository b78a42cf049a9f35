// Package manager wires one independent scheduler instance: a worker pool,
// constraint registry, job queue and dispatcher sharing one event hub.
// Nothing here is process-global, so several managers can coexist.
package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/herd/internal/constraint"
	"github.com/mattjoyce/herd/internal/dispatch"
	"github.com/mattjoyce/herd/internal/events"
	"github.com/mattjoyce/herd/internal/log"
	"github.com/mattjoyce/herd/internal/metrics"
	"github.com/mattjoyce/herd/internal/pool"
	"github.com/mattjoyce/herd/internal/queue"
	"github.com/mattjoyce/herd/internal/session"
)

type Options struct {
	Authenticator session.Authenticator
	Inventory     session.InventoryLister
	Events        *events.Hub
	// Registerer receives the dispatcher collectors. Nil disables metrics.
	// Managers sharing one Registerer must each set a distinct Instance;
	// otherwise registration panics on duplicate collectors.
	Registerer prometheus.Registerer
	// Instance, when set, is added to every collector as the herd_instance
	// label.
	Instance string
	Journal    dispatch.Recorder
	Tracer     trace.Tracer
}

type Manager struct {
	pool        *pool.Pool
	constraints *constraint.Registry
	queue       *queue.Queue
	dispatcher  *dispatch.Dispatcher
	events      *events.Hub
	metrics     *metrics.Metrics

	auth   session.Authenticator
	lister session.InventoryLister
	logger *slog.Logger
}

func New(opts Options) *Manager {
	m := &Manager{
		pool:        pool.New(),
		constraints: constraint.NewRegistry(),
		queue:       queue.New(),
		events:      opts.Events,
		auth:        opts.Authenticator,
		lister:      opts.Inventory,
		logger:      log.WithComponent("manager"),
	}
	if m.auth == nil {
		m.auth = session.Static{}
	}
	if m.lister == nil {
		m.lister = session.Empty{}
	}
	if reg := opts.Registerer; reg != nil {
		if opts.Instance != "" {
			reg = prometheus.WrapRegistererWith(prometheus.Labels{"herd_instance": opts.Instance}, reg)
		}
		m.metrics = metrics.New(reg, m.queue.Len, m.pool.Count)
	}
	m.dispatcher = dispatch.New(m.queue, m.pool, m.constraints, dispatch.Options{
		Events:  m.events,
		Metrics: m.metrics,
		Journal: opts.Journal,
		Tracer:  opts.Tracer,
	})
	return m
}

// AddConstraint registers def, replacing any constraint of the same name and
// discarding its values.
func (m *Manager) AddConstraint(def constraint.Def) error {
	if err := m.constraints.Register(def); err != nil {
		return err
	}
	m.logger.Debug("constraint registered", "constraint", def.Name)
	return nil
}

// AddWorker authenticates creds and registers the resulting session. The
// session identity becomes the worker identity.
func (m *Manager) AddWorker(ctx context.Context, creds session.Credentials, kind string) (*pool.Worker, error) {
	sess, err := m.auth.Authenticate(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", creds.Account, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("authenticate %s: %w: nil session", creds.Account, session.ErrAuthFailed)
	}
	return m.RegisterWorker(sess.Identity(), kind, sess)
}

// RegisterWorker adds an already-established session to the pool.
func (m *Manager) RegisterWorker(identity, kind string, sess pool.Session) (*pool.Worker, error) {
	w, err := m.pool.Register(identity, kind, sess)
	if err != nil {
		return nil, err
	}
	log.WithWorker(w.Index, w.Identity).Info("worker registered", "kind", kind)
	m.events.Publish(events.WorkerRegistered, map[string]any{
		"worker_index":    w.Index,
		"worker_identity": w.Identity,
		"kind":            w.Kind,
	})
	return w, nil
}

// AddJob validates and enqueues jobs as one batch.
func (m *Manager) AddJob(jobs ...*queue.Job) error {
	if err := m.queue.Enqueue(jobs...); err != nil {
		return err
	}
	for _, j := range jobs {
		m.events.Publish(events.JobEnqueued, map[string]any{"job_id": j.ID, "type": j.Type, "bots": j.Bots.String()})
	}
	return nil
}

// ProcessJobs starts up to n queued jobs concurrently. n <= 0 means 1.
func (m *Manager) ProcessJobs(ctx context.Context, n int) []*dispatch.Outcome {
	if n <= 0 {
		n = 1
	}
	return m.dispatcher.Submit(ctx, n)
}

func (m *Manager) OpenJobs() int { return m.queue.Len() }

// Drain waits for jobs already handed to the dispatcher to settle. Queued jobs
// are not started.
func (m *Manager) Drain(ctx context.Context) error { return m.dispatcher.Drain(ctx) }

func (m *Manager) WorkerCount() int { return m.pool.Count() }

func (m *Manager) WorkerIndexFromIdentity(identity string) (int, bool) {
	return m.pool.IndexOf(identity)
}

func (m *Manager) IdentityFromIndex(index int) (string, error) {
	return m.pool.IdentityOf(index)
}

func (m *Manager) Worker(index int) (*pool.Worker, error) { return m.pool.Get(index) }

func (m *Manager) Workers() []*pool.Worker { return m.pool.All() }

// SetConstraintValues overwrites every initialized value of a constraint. It
// reports false when the constraint is not registered.
func (m *Manager) SetConstraintValues(name string, value float64) bool {
	if !m.constraints.SetAll(name, value) {
		return false
	}
	m.events.Publish(events.ConstraintReset, map[string]any{"constraint": name, "value": value})
	return true
}

func (m *Manager) ConstraintNames() []string { return m.constraints.Names() }

func (m *Manager) ConstraintValues(name string) (map[int]float64, bool) {
	return m.constraints.Snapshot(name)
}

func (m *Manager) Events() *events.Hub { return m.events }

// LoadInventories lists every worker's inventory concurrently. Items come
// back grouped by worker in index order; the first listing error cancels the
// rest and is returned.
func (m *Manager) LoadInventories(ctx context.Context, q session.Query) ([]session.Item, error) {
	workers := m.pool.All()
	results := make([][]session.Item, len(workers))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		g.Go(func() error {
			items, err := m.lister.List(gctx, w.Session, q)
			if err != nil {
				return fmt.Errorf("list inventory for worker %d (%s): %w", w.Index, w.Identity, err)
			}
			for k := range items {
				items[k].WorkerIndex = w.Index
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []session.Item
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}
