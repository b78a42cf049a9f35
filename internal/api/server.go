package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/herd/internal/auth"
	"github.com/mattjoyce/herd/internal/dispatch"
	"github.com/mattjoyce/herd/internal/events"
	"github.com/mattjoyce/herd/internal/journal"
	"github.com/mattjoyce/herd/internal/pool"
	"github.com/mattjoyce/herd/internal/queue"
)

// Scheduler is the manager surface the API exposes.
type Scheduler interface {
	AddJob(jobs ...*queue.Job) error
	ProcessJobs(ctx context.Context, n int) []*dispatch.Outcome
	OpenJobs() int
	WorkerCount() int
	Workers() []*pool.Worker
	Worker(index int) (*pool.Worker, error)
	WorkerIndexFromIdentity(identity string) (int, bool)
	ConstraintNames() []string
	ConstraintValues(name string) (map[int]float64, bool)
	SetConstraintValues(name string, value float64) bool
}

// HandlerLookup resolves a job type to its handler.
type HandlerLookup interface {
	Lookup(name string) (queue.Handler, error)
}

// HistoryReader reads settled jobs. Nil disables GET /jobs/history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxWait caps how long POST /jobs/process?wait blocks.
	MaxWait time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	keys      *auth.Keyring
	sched     Scheduler
	handlers  HandlerLookup
	history   HistoryReader
	events    *events.Hub
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. history and gatherer may be nil.
func New(config Config, sched Scheduler, handlers HandlerLookup, history HistoryReader, hub *events.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if config.MaxWait <= 0 {
		config.MaxWait = 5 * time.Minute
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		keys:      auth.NewKeyring(config.APIKey, config.Tokens),
		sched:     sched,
		handlers:  handlers,
		history:   history,
		events:    hub,
		gatherer:  gatherer,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx ends or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.MaxWait + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes("jobs:rw")).Post("/jobs", s.handleEnqueue)
		r.With(s.requireScopes("jobs:rw")).Post("/jobs/process", s.handleProcess)
		r.With(s.requireScopes("jobs:ro")).Get("/jobs/history", s.handleHistory)

		r.With(s.requireScopes("workers:ro")).Get("/workers", s.handleListWorkers)
		r.With(s.requireScopes("workers:ro")).Get("/workers/lookup", s.handleLookupWorker)
		r.With(s.requireScopes("workers:ro")).Get("/workers/{index}", s.handleGetWorker)

		r.With(s.requireScopes("constraints:ro")).Get("/constraints", s.handleListConstraints)
		r.With(s.requireScopes("constraints:rw")).Put("/constraints/{name}/values", s.handleSetConstraint)

		r.With(s.requireScopes("events:ro")).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := s.keys.Resolve(token)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !principal.Allows(scopes...) {
				s.logger.Debug("scope denied", "credential", principal.Label, "required", scopes, "path", r.URL.Path)
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
