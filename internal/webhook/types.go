package webhook

import (
	"github.com/mattjoyce/herd/internal/queue"
)

// JobSubmitter enqueues jobs.
type JobSubmitter interface {
	AddJob(jobs ...*queue.Job) error
}

// HandlerLookup resolves a job type to its handler.
type HandlerLookup interface {
	Lookup(name string) (queue.Handler, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig is one webhook path and the job it enqueues.
type EndpointConfig struct {
	Path        string
	JobType     string
	Multi       bool
	Constraints []string
	Bots        queue.Selector

	Secret string
	// SignatureHeader carries the HMAC, e.g. X-Hub-Signature-256.
	SignatureHeader string
	MaxBodySize     int64
}

// TriggerResponse is the JSON response for accepted webhooks.
type TriggerResponse struct {
	JobID string `json:"job_id"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}
