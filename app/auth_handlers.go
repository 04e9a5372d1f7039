package app

import (
	"context"
	"net/http"
	"time"

	"example/veritas-api/auth"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Health is a public health check endpoint.
func (s *Server) Health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("health: database ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, status)
}

// Entitlement returns tier and today's usage for the authenticated user.
// Exempt accounts report -1 for both the limit and the remainder.
func (s *Server) Entitlement(c *gin.Context) {
	ctx := c.Request.Context()
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	d, err := s.entitlements.Resolve(ctx, claims)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("sub", claims.Subject).Msg("entitlement lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	c.JSON(http.StatusOK, EntitlementView(d))
}
