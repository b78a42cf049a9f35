package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/herd/internal/queue"
)

// Server is the webhook HTTP listener.
type Server struct {
	config   Config
	jobs     JobSubmitter
	handlers HandlerLookup
	logger   *slog.Logger
	server   *http.Server

	endpoints map[string]*EndpointConfig
}

// New creates a webhook server.
func New(config Config, jobs JobSubmitter, handlers HandlerLookup, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig, len(config.Endpoints))
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = 1 << 20
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		jobs:      jobs,
		handlers:  handlers,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start serves until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler. Each endpoint gets its own closure so
// the request path never has to be matched twice.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for _, ep := range s.endpoints {
		r.Post(ep.Path, s.trigger(ep))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
	})
	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// readBody reads at most limit bytes. ok is false when the body is larger.
func readBody(r io.Reader, limit int64) (body []byte, ok bool, err error) {
	body, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	return body, int64(len(body)) <= limit, nil
}

// trigger turns a signed POST on ep into one job built from ep's template.
func (s *Server) trigger(ep *EndpointConfig) http.HandlerFunc {
	logger := s.logger.With("path", ep.Path, "job_type", ep.JobType)

	return func(w http.ResponseWriter, r *http.Request) {
		body, ok, err := readBody(r.Body, ep.MaxBodySize)
		switch {
		case err != nil:
			s.respondError(w, http.StatusInternalServerError, "failed to read request body")
			return
		case !ok:
			s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}

		if err := verify(body, r.Header.Get(ep.SignatureHeader), ep.Secret); err != nil {
			logger.Warn("webhook signature rejected", "header", ep.SignatureHeader)
			s.respondError(w, http.StatusForbidden, "forbidden")
			return
		}

		var args any
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &args); err != nil {
				s.respondError(w, http.StatusBadRequest, "body must be JSON")
				return
			}
		}

		job, err := s.newJob(ep, args)
		if err == nil {
			err = s.jobs.AddJob(job)
		}
		if err != nil {
			logger.Error("failed to enqueue webhook job", "error", err)
			s.respondError(w, http.StatusInternalServerError, "failed to enqueue job")
			return
		}

		logger.Info("webhook job enqueued", "job_id", job.ID)
		s.respondJSON(w, http.StatusAccepted, TriggerResponse{JobID: job.ID})
	}
}

func (s *Server) newJob(ep *EndpointConfig, args any) (*queue.Job, error) {
	fn, err := s.handlers.Lookup(ep.JobType)
	if err != nil {
		return nil, err
	}
	return &queue.Job{
		Type:        ep.JobType,
		Multi:       ep.Multi,
		Constraints: ep.Constraints,
		Args:        args,
		Fn:          fn,
		Bots:        ep.Bots,
	}, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
