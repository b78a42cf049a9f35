package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/herd/internal/api"
	"github.com/mattjoyce/herd/internal/auth"
	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/lock"
	"github.com/mattjoyce/herd/internal/log"
	"github.com/mattjoyce/herd/internal/scheduler"
	"github.com/mattjoyce/herd/internal/webhook"
)

func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the dispatcher in the foreground",
		Long: "Load the config, log in workers, register constraints and handlers, then\n" +
			"run the scheduler plus the API and webhook listeners until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(opts.configPath)
		},
	}
}

// shutdownGrace bounds how long start waits for dispatched jobs on exit.
const shutdownGrace = 30 * time.Second

func runStart(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("herd starting", "version", version, "config", cfg.SourcePath)

	pidLockPath := lock.PathFor(cfg.Journal.Path)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return err
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer rt.Close()

	var pruner scheduler.HistoryPruner
	if rt.journal != nil {
		pruner = rt.journal
	}
	sched := scheduler.New(cfg, rt.mgr, pruner, rt.hub, log.Get())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	// Runs before rt.Close so handlers finish while the journal is still open.
	defer func() {
		sched.Stop()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer drainCancel()
		if err := rt.mgr.Drain(drainCtx); err != nil {
			logger.Warn("jobs still running at shutdown", "grace", shutdownGrace, "error", err)
		}
	}()

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		var history api.HistoryReader
		if rt.journal != nil {
			history = rt.journal
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, rt.mgr, rt.handlers, history, rt.hub, rt.registry, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		webhookConfig, err := webhook.FromConfig(cfg.Webhooks, rt.handlers)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return err
		}
		webhookServer := webhook.New(webhookConfig, rt.mgr, rt.handlers, log.WithComponent("webhook"))
		go func() {
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	logger.Info("herd running (press Ctrl+C to stop)", "workers", rt.mgr.WorkerCount(), "constraints", len(rt.mgr.ConstraintNames()))

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return err
	}

	logger.Info("herd stopped", "open_jobs", rt.mgr.OpenJobs())
	return nil
}
