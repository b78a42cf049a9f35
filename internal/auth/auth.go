// Package auth resolves bearer tokens to scoped principals.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Scope is a grantable permission with a human description.
type Scope struct {
	Name        string
	Description string
}

// Scopes lists every scope the API checks, in display order.
var Scopes = []Scope{
	{"*", "Full administrative access (all scopes)"},
	{"jobs:ro", "Read job history"},
	{"jobs:rw", "Enqueue and process jobs (implies jobs:ro)"},
	{"workers:ro", "List and look up pool workers"},
	{"constraints:ro", "Read constraint values"},
	{"constraints:rw", "Overwrite constraint values (implies constraints:ro)"},
	{"events:ro", "Subscribe to the event stream (SSE)"},
}

// ValidScope reports whether name is one of Scopes.
func ValidScope(name string) bool {
	for _, s := range Scopes {
		if s.Name == name {
			return true
		}
	}
	return false
}

var (
	ErrNoCredentials = errors.New("missing Authorization header")
	ErrMalformed     = errors.New("invalid Authorization header format")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is the caller a token resolved to. Label names the credential
// ("api_key" or "tokens[i]") for logs; the secret itself is never kept.
type Principal struct {
	Label  string
	scopes map[string]struct{}
}

// Allows reports whether p holds "*" or any of required. No requirement
// always passes.
func (p Principal) Allows(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.scopes["*"]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.scopes[s]; ok {
			return true
		}
	}
	return false
}

type credential struct {
	secret    []byte
	principal Principal
}

// Keyring holds the configured credentials with their scopes expanded.
type Keyring struct {
	creds []credential
}

// NewKeyring builds a keyring from the admin api key and scoped tokens. Empty
// secrets are skipped so they can never match.
func NewKeyring(apiKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if apiKey != "" {
		k.creds = append(k.creds, credential{
			secret:    []byte(apiKey),
			principal: Principal{Label: "api_key", scopes: map[string]struct{}{"*": {}}},
		})
	}
	for i, t := range tokens {
		if t.Token == "" {
			continue
		}
		k.creds = append(k.creds, credential{
			secret:    []byte(t.Token),
			principal: Principal{Label: fmt.Sprintf("tokens[%d]", i), scopes: expand(t.Scopes)},
		})
	}
	return k
}

// Resolve finds the principal for a presented token. Every credential is
// compared so the time taken does not depend on which one matched.
func (k *Keyring) Resolve(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	var (
		found Principal
		ok    bool
	)
	for _, c := range k.creds {
		if subtle.ConstantTimeCompare([]byte(presented), c.secret) == 1 && !ok {
			found, ok = c.principal, true
		}
	}
	return found, ok
}

// Len is the number of usable credentials.
func (k *Keyring) Len() int { return len(k.creds) }

func expand(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes)+2)
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	for _, resource := range []string{"jobs", "constraints"} {
		if _, ok := out[resource+":rw"]; ok {
			out[resource+":ro"] = struct{}{}
		}
	}
	return out
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformed
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", fmt.Errorf("%w: empty token", ErrMalformed)
	}
	return token, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
