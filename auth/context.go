// Package auth provides request context helpers for verified Auth0 claims.
package auth

import (
	"context"
	"strings"
	"time"
)

type ctxKey int

const claimsKey ctxKey = iota

// Claims contains the verified Auth0 token details we care about.
// Email and Name are optional profile claims; access tokens usually carry
// them under a namespaced key.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	Scope     string
	Email     string
	Name      string
	Raw       map[string]any
}

// WithClaims stores auth claims in a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns claims from a context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil && claims.Subject != ""
}

// profileClaim reads key directly or under namespace (e.g. "https://veritas.app/email").
func profileClaim(raw map[string]any, namespace, key string) string {
	if raw == nil {
		return ""
	}
	candidates := []string{key}
	if namespace != "" {
		candidates = append([]string{strings.TrimRight(namespace, "/") + "/" + key}, candidates...)
	}
	for _, k := range candidates {
		if s, ok := raw[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
