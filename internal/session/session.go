// Package session holds the collaborator interfaces a manager uses to log
// workers in and to list what they hold. Real backends live outside this
// module; Static and Empty cover config-declared workers.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/herd/internal/pool"
)

//go:generate mockgen -destination=mocks/mock_session.go -package=mocks github.com/mattjoyce/herd/internal/session Authenticator,InventoryLister

var ErrAuthFailed = errors.New("authentication failed")

type Credentials struct {
	Account string            `yaml:"account" json:"account"`
	Secret  string            `yaml:"secret" json:"-"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// Authenticator establishes a session for one worker. The returned session's
// Identity becomes the worker's identity in the pool.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (pool.Session, error)
}

// Query narrows an inventory listing. Zero value lists everything.
type Query struct {
	Kind   string            `json:"kind,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

// Item is one inventory entry, tagged with the worker that holds it.
type Item struct {
	WorkerIndex int            `json:"worker_index"`
	ID          string         `json:"id"`
	Kind        string         `json:"kind,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

type InventoryLister interface {
	List(ctx context.Context, sess pool.Session, q Query) ([]Item, error)
}

// Local is a session with no remote side.
type Local struct {
	ID string
}

func (l Local) Identity() string { return l.ID }

// Static accepts any credentials with a non-empty account and returns a
// Local session named after it. When Secrets is set the secret must match.
type Static struct {
	Secrets map[string]string
}

func (s Static) Authenticate(_ context.Context, creds Credentials) (pool.Session, error) {
	if creds.Account == "" {
		return nil, fmt.Errorf("%w: account is empty", ErrAuthFailed)
	}
	if s.Secrets != nil {
		want, ok := s.Secrets[creds.Account]
		if !ok || want != creds.Secret {
			return nil, fmt.Errorf("%w: account %q", ErrAuthFailed, creds.Account)
		}
	}
	return Local{ID: creds.Account}, nil
}

// Empty lists nothing for every worker.
type Empty struct{}

func (Empty) List(context.Context, pool.Session, Query) ([]Item, error) { return nil, nil }
