// Package pool holds the append-only registry of workers known to a scheduler.
//
// Indices are dense, start at 0 and are never reused. Workers are never
// removed; availability is expressed through constraints instead.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrIndexOutOfRange   = errors.New("worker index out of range")
	ErrDuplicateIdentity = errors.New("worker identity already registered")
	ErrInvalidWorker     = errors.New("invalid worker")
)

// Session is the opaque handle returned by the session collaborator once a
// worker has authenticated. The pool never calls into it beyond Identity.
type Session interface {
	Identity() string
}

// Worker is a registered agent. All fields are fixed at registration.
type Worker struct {
	Index        int
	Identity     string
	Kind         string
	Session      Session
	RegisteredAt time.Time
}

// Pool is safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	workers []*Worker
}

func New() *Pool {
	return &Pool{}
}

// Register appends a worker and returns it with its assigned index.
func (p *Pool) Register(identity, kind string, sess Session) (*Worker, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is empty", ErrInvalidWorker)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		if w.Identity == identity {
			return nil, fmt.Errorf("%w: %s (index %d)", ErrDuplicateIdentity, identity, w.Index)
		}
	}

	w := &Worker{
		Index:        len(p.workers),
		Identity:     identity,
		Kind:         kind,
		Session:      sess,
		RegisteredAt: time.Now().UTC(),
	}
	p.workers = append(p.workers, w)
	return w, nil
}

// IndexOf looks a worker up by external identity. The bool is false when no
// worker has that identity; index 0 is a valid hit.
func (p *Pool) IndexOf(identity string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, w := range p.workers {
		if w.Identity == identity {
			return w.Index, true
		}
	}
	return 0, false
}

// IdentityOf returns the external identity of the worker at index.
func (p *Pool) IdentityOf(index int) (string, error) {
	w, err := p.Get(index)
	if err != nil {
		return "", err
	}
	return w.Identity, nil
}

// Get returns the worker at index.
func (p *Pool) Get(index int) (*Worker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if index < 0 || index >= len(p.workers) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(p.workers))
	}
	return p.workers[index], nil
}

// All returns a snapshot of registered workers in index order.
func (p *Pool) All() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Indices returns 0..Count()-1.
func (p *Pool) Indices() []int {
	n := p.Count()
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}
