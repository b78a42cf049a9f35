// Package queue is the in-memory FIFO of pending jobs.
//
// Jobs are validated when they are enqueued, not when they are dispatched: a
// batch with one bad job is rejected as a whole and nothing is appended.
package queue

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type Queue struct {
	mu   sync.Mutex
	jobs []*Job
}

func New() *Queue {
	return &Queue{}
}

// Enqueue appends jobs to the tail in the given order and assigns their IDs.
func (q *Queue) Enqueue(jobs ...*Job) error {
	for i, j := range jobs {
		if err := validate(j); err != nil {
			return fmt.Errorf("job[%d]: %w", i, err)
		}
	}

	for _, j := range jobs {
		j.Constraints = dedupe(j.Constraints)
		if j.ID == "" {
			j.ID = uuid.NewString()
		}
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, jobs...)
	q.mu.Unlock()
	return nil
}

// Dequeue removes and returns the head job. It returns (nil, false) when the
// queue is empty and never blocks.
func (q *Queue) Dequeue() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func validate(j *Job) error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	if j.Fn == nil {
		return fmt.Errorf("%w: type %q has no handler", ErrInvalidJob, j.Type)
	}
	for i, name := range j.Constraints {
		if name == "" {
			return fmt.Errorf("%w: constraints[%d] is empty", ErrInvalidJob, i)
		}
	}
	return nil
}

// dedupe drops repeated constraint names, keeping first occurrences in order,
// so each constraint is evaluated and fed back once per worker.
func dedupe(names []string) []string {
	if len(names) < 2 {
		return names
	}
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
