package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/constraint"
	"github.com/mattjoyce/herd/internal/events"
	"github.com/mattjoyce/herd/internal/handler"
	"github.com/mattjoyce/herd/internal/journal"
	"github.com/mattjoyce/herd/internal/manager"
	"github.com/mattjoyce/herd/internal/session"
	"github.com/mattjoyce/herd/internal/storage"
)

const eventBufferSize = 256

// runtime is everything a running herd instance owns, built from config.
type runtime struct {
	cfg      *config.Config
	db       *sql.DB
	journal  *journal.Journal
	hub      *events.Hub
	registry *prometheus.Registry
	handlers *handler.Registry
	mgr      *manager.Manager
}

// newRuntime opens the journal, registers handlers and constraints, and logs
// in the configured workers. A worker whose login fails is skipped.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		hub:      events.NewHub(eventBufferSize),
		registry: prometheus.NewRegistry(),
		handlers: handler.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := manager.Options{
		Authenticator: staticAuthenticator(cfg.Workers),
		Events:        rt.hub,
		Registerer:    rt.registry,
	}
	if cfg.Journal.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.db = db
		rt.journal = journal.New(db)
		opts.Journal = rt.journal
		logger.Info("journal opened", "path", cfg.Journal.Path)
	}
	rt.mgr = manager.New(opts)

	for name, hc := range cfg.Handlers {
		h := handler.NewExec(handler.ExecSpec{
			Name:    name,
			Command: hc.Command,
			Args:    hc.Args,
			Timeout: hc.Timeout,
			Config:  hc.Config,
		})
		if err := rt.handlers.Register(name, h); err != nil {
			rt.Close()
			return nil, fmt.Errorf("register handler %q: %w", name, err)
		}
	}
	logger.Info("handlers registered", "names", rt.handlers.Names())

	for _, cc := range cfg.Constraints {
		def, err := constraint.Compile(constraint.ExprSpec{
			Name:      cc.Name,
			Engine:    cc.Engine,
			Test:      cc.Test,
			Initial:   cc.Initial,
			OnSuccess: cc.OnSuccess,
			OnFailure: cc.OnFailure,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := rt.mgr.AddConstraint(def); err != nil {
			rt.Close()
			return nil, fmt.Errorf("register constraint %q: %w", cc.Name, err)
		}
		logger.Info("constraint registered", "constraint", cc.Name, "engine", cc.Engine)
	}

	for _, wc := range cfg.Workers {
		w, err := rt.mgr.AddWorker(ctx, session.Credentials{
			Account: wc.Account,
			Secret:  wc.Secret,
			Options: wc.Options,
		}, wc.Kind)
		if err != nil {
			logger.Error("worker login failed", "account", wc.Account, "error", err)
			continue
		}
		logger.Info("worker registered", "worker_index", w.Index, "worker_identity", w.Identity)
	}

	return rt, nil
}

// staticAuthenticator accepts exactly the configured accounts with their
// configured secrets.
func staticAuthenticator(workers []config.WorkerConf) session.Static {
	secrets := make(map[string]string, len(workers))
	for _, w := range workers {
		secrets[w.Account] = w.Secret
	}
	return session.Static{Secrets: secrets}
}

func (rt *runtime) Close() {
	if rt.db != nil {
		_ = rt.db.Close()
		rt.db = nil
	}
}
