// Package inference talks to the external analysis service and relays its
// event stream.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example/veritas-api/app/models"

	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 120 * time.Second
	maxErrorBody   = 4096
)

// Request is the outbound body for /predict and /predict/stream.
type Request struct {
	Text         string  `json:"text"`
	Title        *string `json:"title,omitempty"`
	URL          *string `json:"url,omitempty"`
	ForceRefresh bool    `json:"force_refresh"`
}

func RequestFrom(r models.AnalyzeRequest) Request {
	return Request{
		Text:         r.Text,
		Title:        r.Title,
		URL:          r.URL,
		ForceRefresh: r.ForceRefresh,
	}
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the transport client. Its Timeout should be zero so
// long streams are bounded only by the request budget.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the budget for one request, measured from connection time.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Timeout() time.Duration { return c.timeout }

// Predict calls the non-streaming endpoint and returns a validated result.
func (c *Client) Predict(ctx context.Context, req Request) (models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/predict", req, "application/json")
	if err != nil {
		return models.AnalysisResult{}, ctxErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.AnalysisResult{}, mapStatus(resp, false)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.AnalysisResult{}, ctxErr(ctx, err)
	}
	return models.DecodeAnalysisResult(body)
}

// Stream opens /predict/stream and relays its frames to w. The budget starts
// when the connection is opened and covers the whole stream. The response body
// is closed before Stream returns.
func (c *Client) Stream(ctx context.Context, req Request, w FrameWriter) Outcome {
	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/predict/stream", req, "text/event-stream")
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, Outcome{})
		}
		return Outcome{State: StateFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{State: StateFailed, Err: mapStatus(resp, true)}
	}
	return Relay(ctx, resp.Body, w)
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

func mapStatus(resp *http.Response, streaming bool) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := upstreamMessage(raw)
	switch {
	case streaming && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadGateway):
		log.Debug().Int("status", resp.StatusCode).Msg("streaming endpoint unavailable")
		return ErrStreamingUnavailable
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return &LimitError{Message: msg}
	default:
		return &StatusError{Status: resp.StatusCode, Body: msg}
	}
}

// upstreamMessage pulls a human readable message out of an error body.
func upstreamMessage(raw []byte) string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

func ctxErr(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return ErrTimeout
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
