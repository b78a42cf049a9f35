// Package handler maps job type names to handler functions for jobs that
// arrive without Go code attached, such as those submitted over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/herd/internal/queue"
)

const (
	Noop = "noop"
	Fail = "fail"
)

var (
	ErrUnknownHandler = errors.New("unknown handler")
	ErrJobFailed      = errors.New("job failed")
)

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]queue.Handler
}

// NewRegistry returns a registry holding the noop and fail built-ins.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]queue.Handler)}
	r.handlers[Noop] = noop
	r.handlers[Fail] = fail
	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(name string, h queue.Handler) error {
	if name == "" {
		return fmt.Errorf("handler name is empty")
	}
	if h == nil {
		return fmt.Errorf("handler %q is nil", name)
	}
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(name string) (queue.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Lookup is Get with an error for unknown names.
func (r *Registry) Lookup(name string) (queue.Handler, error) {
	h, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return h, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// noop succeeds and returns the identities it was given.
func noop(_ context.Context, _ any, target queue.Target) (any, error) {
	ids := make([]string, len(target.Workers))
	for i, w := range target.Workers {
		ids[i] = w.Identity
	}
	return map[string]any{"workers": ids}, nil
}

// fail always fails, with args.reason when present.
func fail(_ context.Context, args any, _ queue.Target) (any, error) {
	if m, ok := args.(map[string]any); ok {
		if reason, ok := m["reason"].(string); ok && reason != "" {
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, reason)
		}
	}
	return nil, ErrJobFailed
}
