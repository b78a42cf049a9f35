package api

import (
	"time"

	"github.com/mattjoyce/herd/internal/queue"
)

// JobRequest is one job in the body of POST /jobs.
type JobRequest struct {
	Type        string         `json:"type"`
	Multi       bool           `json:"multi"`
	Constraints []string       `json:"constraints,omitempty"`
	Args        any            `json:"args,omitempty"`
	Bots        queue.Selector `json:"bots"`
}

// EnqueueResponse is returned by POST /jobs.
type EnqueueResponse struct {
	JobIDs   []string `json:"job_ids"`
	OpenJobs int      `json:"open_jobs"`
}

// ProcessRequest is the JSON body for POST /jobs/process.
type ProcessRequest struct {
	Count int  `json:"count"`
	Wait  bool `json:"wait"`
}

// JobResult reports one processed job.
type JobResult struct {
	JobID   string `json:"job_id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Workers []int  `json:"workers,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProcessResponse is returned by POST /jobs/process.
type ProcessResponse struct {
	Submitted int         `json:"submitted"`
	JobIDs    []string    `json:"job_ids"`
	Results   []JobResult `json:"results,omitempty"`
	OpenJobs  int         `json:"open_jobs"`
}

// WorkerResponse describes one registered worker.
type WorkerResponse struct {
	Index        int       `json:"index"`
	Identity     string    `json:"identity"`
	Kind         string    `json:"kind,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ConstraintResponse is one constraint with its initialized values, keyed by
// worker index.
type ConstraintResponse struct {
	Name   string          `json:"name"`
	Values map[int]float64 `json:"values"`
}

// SetValueRequest is the JSON body for PUT /constraints/{name}/values.
type SetValueRequest struct {
	Value *float64 `json:"value"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OpenJobs      int    `json:"open_jobs"`
	Workers       int    `json:"workers"`
}
