package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the admin API.
const (
	ScopeAll           = "*"
	ScopeWebhooksRO    = "webhooks:ro"
	ScopeWebhooksRW    = "webhooks:rw"
	ScopeEventsPublish = "events:publish"
	ScopeEventsRO      = "events:ro"
)

var knownScopes = map[string]bool{
	ScopeAll:           true,
	ScopeWebhooksRO:    true,
	ScopeWebhooksRW:    true,
	ScopeEventsPublish: true,
	ScopeEventsRO:      true,
}

// KnownScope reports whether s is a scope the API checks for.
func KnownScope(s string) bool {
	return knownScopes[strings.TrimSpace(s)]
}

// TokenConfig is a bearer token bound to a tenant with a set of scopes.
type TokenConfig struct {
	Token  string
	Tenant string
	Scopes []string
}

// Principal is the authenticated caller. Every admin operation is confined to
// Principal.Tenant.
type Principal struct {
	Tenant string
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
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing API token")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
func Authenticate(presented string, tokens []TokenConfig) (Principal, bool) {
	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Tenant: t.Tenant,
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

	// Write implies read.
	if _, ok := out[ScopeWebhooksRW]; ok {
		out[ScopeWebhooksRO] = struct{}{}
	}
	return out
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
