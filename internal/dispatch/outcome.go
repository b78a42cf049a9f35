package dispatch

import (
	"context"
	"errors"

	"github.com/mattjoyce/herd/internal/metrics"
	"github.com/mattjoyce/herd/internal/queue"
)

// Outcome is the handle for one submitted job. Result, Err and Workers are
// only meaningful after Done is closed.
type Outcome struct {
	Job *queue.Job

	done    chan struct{}
	result  any
	err     error
	workers []int
}

func newOutcome(job *queue.Job) *Outcome {
	return &Outcome{Job: job, done: make(chan struct{})}
}

func (o *Outcome) settle(res any, workers []int, err error) {
	o.result = res
	o.workers = workers
	o.err = err
	close(o.done)
}

func (o *Outcome) Done() <-chan struct{} { return o.done }

// Wait blocks until the job settles or ctx ends. A ctx error does not stop
// the job.
func (o *Outcome) Wait(ctx context.Context) (any, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Outcome) Err() error { return o.err }

func (o *Outcome) Result() any { return o.result }

// Workers returns the indices handed to the handler, in selection order. It
// is empty for jobs that never reached the handler.
func (o *Outcome) Workers() []int { return o.workers }

// Status classifies a settled outcome as succeeded, rejected, invalid or
// failed. Jobs that never reached a handler have no workers.
func (o *Outcome) Status() string {
	switch {
	case o.err == nil:
		return metrics.StatusSucceeded
	case o.workers != nil:
		return metrics.StatusFailed
	case errors.Is(o.err, ErrNoEligibleWorker):
		return metrics.StatusRejected
	default:
		return metrics.StatusInvalid
	}
}

// WaitAll waits for every outcome and returns the first ctx error, if any.
func WaitAll(ctx context.Context, outcomes []*Outcome) error {
	for _, o := range outcomes {
		select {
		case <-o.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
