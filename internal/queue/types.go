package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattjoyce/herd/internal/pool"
)

var (
	ErrInvalidJob      = errors.New("invalid job")
	ErrInvalidSelector = errors.New("invalid worker selector")
)

// Handler is a job body. It blocks until the work settles and owns its own
// deadline; ctx is only passed through.
type Handler func(ctx context.Context, args any, target Target) (any, error)

// Target is what a handler runs against: exactly one worker for single-select
// jobs, or every eligible worker for multi jobs.
type Target struct {
	Workers []*pool.Worker
	Multi   bool
}

// Worker returns the first selected worker, or nil if there is none.
func (t Target) Worker() *pool.Worker {
	if len(t.Workers) == 0 {
		return nil
	}
	return t.Workers[0]
}

// Job is a one-shot unit of work. It is consumed exactly once.
type Job struct {
	// ID is assigned on enqueue and only used for logs and events.
	ID          string
	Type        string
	Multi       bool
	Constraints []string
	Args        any
	Fn          Handler
	Bots        Selector
}

type selectorMode int

const (
	selectAll selectorMode = iota
	selectOne
	selectList
	selectInvalid
)

// Selector names the candidate workers of a job. The zero value selects every
// registered worker.
type Selector struct {
	mode    selectorMode
	indices []int
	reason  string
}

// AllWorkers selects every registered worker in index order.
func AllWorkers() Selector { return Selector{} }

// OneWorker selects a single worker. Index 0 is a normal index.
func OneWorker(index int) Selector {
	return Selector{mode: selectOne, indices: []int{index}}
}

// Workers selects an explicit list; order is preserved and decides which
// worker a single-select job gets.
func Workers(indices ...int) Selector {
	cp := make([]int, len(indices))
	copy(cp, indices)
	return Selector{mode: selectList, indices: cp}
}

// IsAll reports whether the selector targets all workers.
func (s Selector) IsAll() bool { return s.mode == selectAll }

// Resolve returns the candidate indices given count registered workers.
func (s Selector) Resolve(count int) ([]int, error) {
	switch s.mode {
	case selectAll:
		out := make([]int, count)
		for i := range out {
			out[i] = i
		}
		return out, nil
	case selectOne, selectList:
		out := make([]int, len(s.indices))
		for i, idx := range s.indices {
			if idx < 0 || idx >= count {
				return nil, fmt.Errorf("%w: index %d out of range (have %d workers)", ErrInvalidSelector, idx, count)
			}
			out[i] = idx
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidSelector, s.reason)
	}
}

func (s Selector) String() string {
	switch s.mode {
	case selectAll:
		return "all"
	case selectOne:
		return fmt.Sprintf("%d", s.indices[0])
	case selectList:
		return fmt.Sprintf("%v", s.indices)
	default:
		return "invalid"
	}
}

// UnmarshalJSON accepts null (all workers), an integer, or an array of
// integers. Anything else decodes to an invalid selector so that only the job
// carrying it fails, at dispatch time.
func (s *Selector) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = AllWorkers()
		return nil
	}

	var one int
	if err := json.Unmarshal(data, &one); err == nil {
		*s = OneWorker(one)
		return nil
	}
	var list []int
	if err := json.Unmarshal(data, &list); err == nil {
		*s = Workers(list...)
		return nil
	}

	*s = Selector{mode: selectInvalid, reason: fmt.Sprintf("bots must be null, an integer or a list of integers, got %s", truncate(data, 64))}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (s Selector) MarshalJSON() ([]byte, error) {
	switch s.mode {
	case selectAll:
		return []byte("null"), nil
	case selectOne:
		return json.Marshal(s.indices[0])
	case selectList:
		return json.Marshal(s.indices)
	default:
		return json.Marshal(s.reason)
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

type jobKey struct{}

// ContextWithJob attaches the running job to ctx for handlers that need its
// ID or type.
func ContextWithJob(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, jobKey{}, j)
}

// JobFromContext returns the job attached by ContextWithJob, or nil.
func JobFromContext(ctx context.Context) *Job {
	j, _ := ctx.Value(jobKey{}).(*Job)
	return j
}
