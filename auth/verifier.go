// Package auth verifies Auth0 JWTs via JWKS and validates issuer/audience.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example/veritas-api/app/config"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

var (
	ErrNotConfigured  = errors.New("auth: issuer and audience must be set")
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrMissingSubject = errors.New("auth: token missing sub")
)

// Verifier validates RS-signed access tokens against a JWKS endpoint.
type Verifier struct {
	issuer    string
	audience  string
	namespace string
	leeway    time.Duration
	keyfunc   jwt.Keyfunc
	parser    *jwt.Parser
}

type VerifierOption func(*Verifier)

// WithClaimNamespace sets the prefix used for custom profile claims such as
// email and name.
func WithClaimNamespace(ns string) VerifierOption {
	return func(v *Verifier) { v.namespace = strings.TrimSpace(ns) }
}

func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.leeway = d
		}
	}
}

// NewVerifierFromConfig builds a verifier from the AUTH0_* settings.
func NewVerifierFromConfig(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, ErrNotConfigured
	}
	return NewVerifier(cfg.Issuer, cfg.Audience, cfg.JWKSURL,
		WithClaimNamespace(cfg.ClaimNamespace),
		WithLeeway(cfg.Leeway))
}

// NewVerifier builds a verifier. jwksURL defaults to the issuer's
// well-known JWKS document.
func NewVerifier(issuer, audience, jwksURL string, opts ...VerifierOption) (*Verifier, error) {
	iss := normalizeIssuer(issuer)
	if iss == "" || audience == "" {
		return nil, ErrNotConfigured
	}
	if jwksURL == "" {
		jwksURL = iss + ".well-known/jwks.json"
	}

	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: jwks %s: %w", jwksURL, err)
	}

	v := &Verifier{issuer: iss, audience: audience, leeway: defaultLeeway, keyfunc: jwks.Keyfunc}
	for _, opt := range opts {
		opt(v)
	}
	v.parser = jwt.NewParser(
		jwt.WithIssuer(iss),
		jwt.WithAudience(audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	)
	return v, nil
}

// Verify parses and validates a JWT, returning extracted claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims := &Claims{
		Subject:   readString(mapClaims, "sub"),
		Issuer:    readString(mapClaims, "iss"),
		Audience:  readAudience(mapClaims["aud"]),
		ExpiresAt: readExpiry(mapClaims["exp"]),
		Scope:     readString(mapClaims, "scope"),
		Email:     profileClaim(mapClaims, v.namespace, "email"),
		Name:      profileClaim(mapClaims, v.namespace, "name"),
		Raw:       mapClaims,
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return ""
	}
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}
	return issuer
}

func readString(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func readAudience(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

func readExpiry(raw any) time.Time {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return time.Unix(i, 0)
		}
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}
