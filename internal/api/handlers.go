package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/herd/internal/dispatch"
	"github.com/mattjoyce/herd/internal/pool"
	"github.com/mattjoyce/herd/internal/queue"
)

const (
	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handleEnqueue handles POST /jobs. The body is one job object or an array of
// them; an array is enqueued atomically.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var reqs []JobRequest
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &reqs); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	} else {
		var one JobRequest
		if err := json.Unmarshal(raw, &one); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
		reqs = []JobRequest{one}
	}
	if len(reqs) == 0 {
		s.writeError(w, http.StatusBadRequest, "no jobs in request")
		return
	}

	jobs := make([]*queue.Job, 0, len(reqs))
	for i, req := range reqs {
		if req.Type == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("job[%d]: type is required", i))
			return
		}
		fn, err := s.handlers.Lookup(req.Type)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("job[%d]: %v", i, err))
			return
		}
		jobs = append(jobs, &queue.Job{
			Type:        req.Type,
			Multi:       req.Multi,
			Constraints: req.Constraints,
			Args:        req.Args,
			Fn:          fn,
			Bots:        req.Bots,
		})
	}

	if err := s.sched.AddJob(jobs...); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	s.logger.Info("jobs enqueued", "count", len(jobs), "job_ids", ids)

	s.respondJSON(w, http.StatusAccepted, EnqueueResponse{JobIDs: ids, OpenJobs: s.sched.OpenJobs()})
}

// handleProcess handles POST /jobs/process. Submitted jobs outlive the
// request; wait only controls whether the response carries their results.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req := ProcessRequest{Count: 1}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Count < 0 {
		s.writeError(w, http.StatusBadRequest, "count must not be negative")
		return
	}

	outcomes := s.sched.ProcessJobs(context.WithoutCancel(r.Context()), req.Count)

	resp := ProcessResponse{Submitted: len(outcomes), JobIDs: make([]string, len(outcomes))}
	for i, o := range outcomes {
		resp.JobIDs[i] = o.Job.ID
	}

	if req.Wait && len(outcomes) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.MaxWait)
		defer cancel()
		if err := dispatch.WaitAll(ctx, outcomes); err != nil {
			s.writeError(w, http.StatusGatewayTimeout, fmt.Sprintf("jobs still running: %v", err))
			return
		}
		resp.Results = make([]JobResult, len(outcomes))
		for i, o := range outcomes {
			resp.Results[i] = jobResult(o)
		}
	}
	resp.OpenJobs = s.sched.OpenJobs()

	status := http.StatusAccepted
	if req.Wait {
		status = http.StatusOK
	}
	s.respondJSON(w, status, resp)
}

func jobResult(o *dispatch.Outcome) JobResult {
	res := JobResult{
		JobID:   o.Job.ID,
		Type:    o.Job.Type,
		Status:  o.Status(),
		Workers: o.Workers(),
		Result:  o.Result(),
	}
	if err := o.Err(); err != nil {
		res.Error = err.Error()
	}
	return res
}

// handleHistory handles GET /jobs/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "job journal is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read job history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read job history")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"jobs": entries})
}

// handleListWorkers handles GET /workers.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.sched.Workers()
	out := make([]WorkerResponse, len(workers))
	for i, wk := range workers {
		out[i] = workerResponse(wk)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"workers": out})
}

// handleGetWorker handles GET /workers/{index}.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "worker index must be an integer")
		return
	}

	wk, err := s.sched.Worker(index)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, workerResponse(wk))
}

// handleLookupWorker handles GET /workers/lookup?identity=.
func (s *Server) handleLookupWorker(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		s.writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	index, ok := s.sched.WorkerIndexFromIdentity(identity)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no worker with identity %q", identity))
		return
	}
	wk, err := s.sched.Worker(index)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, workerResponse(wk))
}

func workerResponse(w *pool.Worker) WorkerResponse {
	return WorkerResponse{
		Index:        w.Index,
		Identity:     w.Identity,
		Kind:         w.Kind,
		RegisteredAt: w.RegisteredAt,
	}
}

// handleListConstraints handles GET /constraints.
func (s *Server) handleListConstraints(w http.ResponseWriter, r *http.Request) {
	names := s.sched.ConstraintNames()
	out := make([]ConstraintResponse, 0, len(names))
	for _, name := range names {
		values, ok := s.sched.ConstraintValues(name)
		if !ok {
			continue
		}
		out = append(out, ConstraintResponse{Name: name, Values: values})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"constraints": out})
}

// handleSetConstraint handles PUT /constraints/{name}/values. Only workers
// whose value is already initialized are overwritten.
func (s *Server) handleSetConstraint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req SetValueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Value == nil {
		s.writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	if !s.sched.SetConstraintValues(name, *req.Value) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("constraint %q not registered", name))
		return
	}
	s.logger.Info("constraint values set", "constraint", name, "value", *req.Value)

	values, _ := s.sched.ConstraintValues(name)
	s.respondJSON(w, http.StatusOK, ConstraintResponse{Name: name, Values: values})
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		OpenJobs:      s.sched.OpenJobs(),
		Workers:       s.sched.WorkerCount(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
