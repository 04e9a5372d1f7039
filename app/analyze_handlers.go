package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"example/veritas-api/app/models"
	"example/veritas-api/auth"
	"example/veritas-api/inference"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	maxRequestBytes = 1 << 20
	maxTextChars    = 50000
	maxTitleChars   = 500

	// StatusClientClosedRequest is reported when the caller disconnects or
	// the inference budget runs out before any response bytes were sent.
	StatusClientClosedRequest = 499

	timeoutReasonHeader = "X-Veritas-Reason"
)

// AnalyzeStream relays the inference event stream to the caller as SSE.
// Usage is counted only after a complete frame has been forwarded.
func (s *Server) AnalyzeStream(c *gin.Context) {
	req, ok := bindAnalyzeRequest(c)
	if !ok {
		return
	}
	d, ok := s.gate(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sw := &sseWriter{c: c}
	out := s.relayAnalysis(ctx, req, sw)
	if out.Completed() {
		s.settler.Settle(ctx, Settlement{
			Account:   d.Account,
			Exempt:    d.Exempt,
			Streamed:  true,
			Request:   req,
			Result:    *out.Result,
			RequestID: requestID(c),
		})
		return
	}

	log.Ctx(ctx).Warn().
		Err(out.Err).
		Str("state", out.State.String()).
		Int("frames", out.Frames).
		Msg("analysis stream ended without result")

	if !sw.started {
		s.writeInferenceError(c, d, out.Err)
		return
	}
	if out.State == inference.StateTimedOut {
		_ = sw.writeEvent(models.StreamEvent{Type: models.EventError, Message: "request timed out"})
	}
}

// relayAnalysis serves a cached result, streams from the inference service,
// or falls back to the one-shot endpoint when streaming is unavailable or the
// stream ended before any frame was forwarded.
func (s *Server) relayAnalysis(ctx context.Context, req models.AnalyzeRequest, sw *sseWriter) inference.Outcome {
	if !req.ForceRefresh {
		if res, ok := s.cache.Get(ctx, req.URL, req.Text); ok {
			log.Ctx(ctx).Debug().Msg("serving cached analysis")
			return sw.complete(res)
		}
	}

	out := s.inference.Stream(ctx, inference.RequestFrom(req), sw)
	if !needsFallback(out) {
		return out
	}

	log.Ctx(ctx).Info().Err(out.Err).Msg("no usable stream, falling back to predict")
	res, err := s.inference.Predict(ctx, inference.RequestFrom(req))
	if err != nil {
		return failedOutcome(err)
	}
	return sw.complete(res)
}

func needsFallback(out inference.Outcome) bool {
	if out.Frames > 0 {
		return false
	}
	return errors.Is(out.Err, inference.ErrStreamingUnavailable) ||
		errors.Is(out.Err, inference.ErrStreamIncomplete)
}

// Analyze is the non-streaming path. Usage is counted before the inference
// call is made.
func (s *Server) Analyze(c *gin.Context) {
	req, ok := bindAnalyzeRequest(c)
	if !ok {
		return
	}
	d, ok := s.gate(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.settler.CountUsage(ctx, d); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("user_id", d.Account.ID).Msg("usage increment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record usage"})
		return
	}

	res, err := s.predict(ctx, req)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("predict failed")
		s.writeInferenceError(c, d, err)
		return
	}

	s.settler.Settle(ctx, Settlement{
		Account:   d.Account,
		Exempt:    d.Exempt,
		Counted:   true,
		Request:   req,
		Result:    res,
		RequestID: requestID(c),
	})
	c.JSON(http.StatusOK, res)
}

func (s *Server) predict(ctx context.Context, req models.AnalyzeRequest) (models.AnalysisResult, error) {
	if !req.ForceRefresh {
		if res, ok := s.cache.Get(ctx, req.URL, req.Text); ok {
			return res, nil
		}
	}
	return s.inference.Predict(ctx, inference.RequestFrom(req))
}

// gate authorizes the caller and writes the 401/429/500 response itself
// when the request may not proceed.
func (s *Server) gate(c *gin.Context) (Decision, bool) {
	ctx := c.Request.Context()
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return Decision{}, false
	}
	d, err := s.entitlements.Resolve(ctx, claims)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("sub", claims.Subject).Msg("entitlement check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load entitlement"})
		return Decision{}, false
	}
	if !d.Allowed {
		log.Ctx(ctx).Info().Str("sub", claims.Subject).Int("used", d.Used).Int("limit", d.Limit).Msg("daily limit reached")
		c.JSON(http.StatusTooManyRequests, limitReachedBody(d, ""))
		return d, false
	}
	return d, true
}

func bindAnalyzeRequest(c *gin.Context) (models.AnalyzeRequest, bool) {
	var req models.AnalyzeRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return req, false
	}
	req.Normalize()
	switch {
	case req.Text == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return req, false
	case utf8.RuneCountInString(req.Text) > maxTextChars:
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is too long"})
		return req, false
	case req.Title != nil && utf8.RuneCountInString(*req.Title) > maxTitleChars:
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is too long"})
		return req, false
	}
	return req, true
}

// writeInferenceError maps an inference failure to a status code before any
// response bytes were sent.
func (s *Server) writeInferenceError(c *gin.Context, d Decision, err error) {
	var (
		limitErr  *inference.LimitError
		statusErr *inference.StatusError
	)
	switch {
	case errors.Is(err, inference.ErrTimeout):
		log.Ctx(c.Request.Context()).Warn().Msg("request timed out")
		c.Header(timeoutReasonHeader, "request timed out")
		c.AbortWithStatus(StatusClientClosedRequest)
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(StatusClientClosedRequest)
	case errors.As(err, &limitErr):
		c.JSON(http.StatusTooManyRequests, limitReachedBody(d, limitErr.Message))
	case errors.Is(err, inference.ErrUnauthorized):
		log.Ctx(c.Request.Context()).Error().Msg("inference service rejected gateway credentials")
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis service unavailable"})
	case errors.As(err, &statusErr),
		errors.Is(err, inference.ErrStreamingUnavailable),
		errors.Is(err, models.ErrInvalidResult):
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis service unavailable"})
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "analysis service unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
	}
}

func failedOutcome(err error) inference.Outcome {
	switch {
	case errors.Is(err, inference.ErrTimeout):
		return inference.Outcome{State: inference.StateTimedOut, Err: err}
	case errors.Is(err, context.Canceled):
		return inference.Outcome{State: inference.StateCancelled, Err: err}
	}
	return inference.Outcome{State: inference.StateFailed, Err: err}
}

// sseWriter writes "data: <json>\n\n" frames and flushes each one. Headers
// go out with the first frame.
type sseWriter struct {
	c       *gin.Context
	started bool
}

func (w *sseWriter) start() {
	h := w.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Writer.WriteHeader(http.StatusOK)
	w.started = true
}

func (w *sseWriter) WriteFrame(payload []byte) error {
	if !w.started {
		w.start()
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	if _, err := w.c.Writer.Write(buf); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *sseWriter) writeEvent(ev models.StreamEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return w.WriteFrame(raw)
}

// complete emits res as the terminal frame.
func (w *sseWriter) complete(res models.AnalysisResult) inference.Outcome {
	raw, err := json.Marshal(res)
	if err != nil {
		return inference.Outcome{State: inference.StateFailed, Err: err}
	}
	if err := w.writeEvent(models.StreamEvent{Type: models.EventComplete, Result: raw}); err != nil {
		return inference.Outcome{State: inference.StateCancelled, Err: err}
	}
	return inference.Outcome{State: inference.StateCompleted, Result: &res, Frames: 1}
}
