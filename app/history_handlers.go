package app

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"example/veritas-api/app/models"
	"example/veritas-api/auth"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxHistoryPage = 200

// ListHistory returns the caller's analyses, newest first.
func (s *Server) ListHistory(c *gin.Context) {
	ctx := c.Request.Context()
	u, ok := s.requireAccount(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit <= 0 || limit > maxHistoryPage {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	records, err := s.store.ListHistory(ctx, u.ID, limit, offset)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("user_id", u.ID).Msg("list history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	if records == nil {
		records = []models.AnalysisRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"items": records, "limit": limit, "offset": offset})
}

// HistoryStats aggregates the caller's history.
func (s *Server) HistoryStats(c *gin.Context) {
	ctx := c.Request.Context()
	u, ok := s.requireAccount(c)
	if !ok {
		return
	}
	stats, err := s.store.HistoryStats(ctx, u.ID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("user_id", u.ID).Msg("history stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type clearHistoryRequest struct {
	URL *string `json:"url"`
}

// ClearHistory deletes the caller's records, optionally only those for one URL.
// Other accounts are never touched.
func (s *Server) ClearHistory(c *gin.Context) {
	ctx := c.Request.Context()
	u, ok := s.requireAccount(c)
	if !ok {
		return
	}

	var req clearHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.URL == nil {
		if q, ok := c.GetQuery("url"); ok {
			req.URL = &q
		}
	}
	if req.URL != nil && *req.URL == "" {
		req.URL = nil
	}

	n, err := s.store.ClearHistory(ctx, u.ID, req.URL)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("user_id", u.ID).Msg("clear history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear history"})
		return
	}
	log.Ctx(ctx).Info().Int64("user_id", u.ID).Int64("deleted", n).Bool("scoped", req.URL != nil).Msg("history cleared")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) requireAccount(c *gin.Context) (models.UserAccount, bool) {
	ctx := c.Request.Context()
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return models.UserAccount{}, false
	}
	u, err := s.accountFor(ctx, claims)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("sub", claims.Subject).Msg("account lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return models.UserAccount{}, false
	}
	return u, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v, ok := c.GetQuery(key)
	if !ok || v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
