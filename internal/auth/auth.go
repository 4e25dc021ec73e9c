package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the operator API. A ":rw" scope implies the matching ":ro".
const (
	ScopeAll       = "*"
	ScopeMarkersRO = "markers:ro"
	ScopeMarkersRW = "markers:rw"
	ScopeJobsRO    = "jobs:ro"
	ScopeJobsRW    = "jobs:rw"
	ScopeEventsRO  = "events:ro"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against the admin key and the
// scoped tokens. The admin key gets scope "*".
func Authenticate(presented string, adminKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, adminKey) {
		return Principal{
			Token:  presented,
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:  presented,
				Scopes: normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	if _, ok := out[ScopeMarkersRW]; ok {
		out[ScopeMarkersRO] = struct{}{}
	}
	if _, ok := out[ScopeJobsRW]; ok {
		out[ScopeJobsRO] = struct{}{}
	}
	return out
}

// KnownScope reports whether s is a scope the API checks for.
func KnownScope(s string) bool {
	switch s {
	case ScopeAll, ScopeMarkersRO, ScopeMarkersRW, ScopeJobsRO, ScopeJobsRW, ScopeEventsRO:
		return true
	}
	return false
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
