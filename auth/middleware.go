// Package auth verifies bearer tokens and puts the caller's claims on the
// request context.
package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// LocalSubject is the identity every request gets when auth is disabled.
const LocalSubject = "local-dev"

// MiddlewareConfig controls auth enforcement behavior.
type MiddlewareConfig struct {
	RequireScopes []string
	PublicPaths   map[string]bool
	// DisableAuth trusts every request as LocalSubject.
	DisableAuth bool
	// OnAuthenticated runs after claims are attached. An error aborts the
	// request with 500.
	OnAuthenticated func(c *gin.Context, claims *Claims) error
}

// Middleware enforces bearer token auth and injects claims into the request context.
func Middleware(verifier *Verifier, cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.DisableAuth {
			accept(c, cfg, &Claims{
				Subject: LocalSubject,
				Issuer:  "local",
				Raw:     map[string]any{"sub": LocalSubject},
			})
			return
		}
		if cfg.PublicPaths[c.FullPath()] {
			c.Next()
			return
		}
		if verifier == nil {
			reject(c, nil, "verifier not configured", "auth verifier not configured")
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			reject(c, nil, "missing Authorization header", "missing authorization header")
			return
		}
		token, ok := extractBearerToken(header)
		if !ok {
			reject(c, nil, "malformed Authorization header", "invalid authorization header")
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			reject(c, err, "token invalid", "invalid token")
			return
		}
		if len(cfg.RequireScopes) > 0 && !hasScopes(claims.Scope, cfg.RequireScopes) {
			reject(c, nil, "missing scopes", "insufficient scope")
			return
		}
		accept(c, cfg, claims)
	}
}

func accept(c *gin.Context, cfg MiddlewareConfig, claims *Claims) {
	ctx := WithClaims(c.Request.Context(), claims)
	c.Request = c.Request.WithContext(ctx)
	if cfg.OnAuthenticated != nil {
		if err := cfg.OnAuthenticated(c, claims); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("sub", claims.Subject).Msg("post-auth hook failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
			return
		}
	}
	c.Next()
}

// reject logs reason and aborts with 401 and a bearer challenge.
func reject(c *gin.Context, err error, reason, message string) {
	log.Ctx(c.Request.Context()).Info().Err(err).Str("path", c.Request.URL.Path).Msg("auth failure: " + reason)
	c.Header("WWW-Authenticate", `Bearer realm="veritas"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func hasScopes(scopeClaim string, required []string) bool {
	granted := strings.Fields(scopeClaim)
	for _, want := range required {
		if !slices.Contains(granted, want) {
			return false
		}
	}
	return true
}
