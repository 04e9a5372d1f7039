// Package client is the extension-side orchestrator and its gateway API client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"example/veritas-api/app/models"
	"example/veritas-api/inference"
)

const maxErrorBody = 64 * 1024

// Gateway is the subset of the gateway API the orchestrator needs.
type Gateway interface {
	StreamAnalyze(ctx context.Context, req models.AnalyzeRequest, onEvent func(models.StreamEvent)) (models.AnalysisResult, error)
	Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnalysisResult, error)
	ClearHistory(ctx context.Context, url *string) (int64, error)
}

// API is an HTTP client for the gateway.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

type APIOption func(*API)

func WithToken(token string) APIOption {
	return func(a *API) { a.token = token }
}

func WithHTTPClient(h *http.Client) APIOption {
	return func(a *API) { a.http = h }
}

// NewAPI builds a gateway client. The HTTP client has no overall timeout;
// streams are bounded by the caller's context and the gateway's own budget.
func NewAPI(baseURL string, opts ...APIOption) *API {
	a := &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: http.DefaultTransport},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StreamAnalyze posts to the streaming endpoint and calls onEvent for every
// frame in arrival order. It returns the result carried by the complete frame.
func (a *API) StreamAnalyze(ctx context.Context, req models.AnalyzeRequest, onEvent func(models.StreamEvent)) (models.AnalysisResult, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/analyze/stream", req, "text/event-stream")
	if err != nil {
		return models.AnalysisResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadGateway:
		return models.AnalysisResult{}, ErrStreamingUnavailable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return models.AnalysisResult{}, decodeAPIError(resp)
	}

	out := inference.Relay(ctx, resp.Body, inference.FrameWriterFunc(func(payload []byte) error {
		if onEvent == nil {
			return nil
		}
		var ev models.StreamEvent
		if err := json.Unmarshal(payload, &ev); err == nil {
			onEvent(ev)
		}
		return nil
	}))
	if out.Completed() {
		return *out.Result, nil
	}
	if ctx.Err() != nil {
		return models.AnalysisResult{}, context.Cause(ctx)
	}
	return models.AnalysisResult{}, out.Err
}

// Analyze calls the non-streaming endpoint.
func (a *API) Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnalysisResult, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/analyze", req, "application/json")
	if err != nil {
		return models.AnalysisResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.AnalysisResult{}, decodeAPIError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return models.DecodeAnalysisResult(body)
}

func (a *API) Entitlement(ctx context.Context) (models.Entitlement, error) {
	var ent models.Entitlement
	err := a.getJSON(ctx, "/api/user/entitlement", &ent)
	return ent, err
}

func (a *API) History(ctx context.Context, limit, offset int) ([]models.AnalysisRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var page struct {
		Items []models.AnalysisRecord `json:"items"`
	}
	err := a.getJSON(ctx, "/api/history?"+q.Encode(), &page)
	return page.Items, err
}

func (a *API) HistoryStats(ctx context.Context) (models.HistoryStats, error) {
	var stats models.HistoryStats
	err := a.getJSON(ctx, "/api/history/stats", &stats)
	return stats, err
}

// ClearHistory deletes server-side history, scoped to url when given.
func (a *API) ClearHistory(ctx context.Context, pageURL *string) (int64, error) {
	var body any
	if pageURL != nil {
		body = map[string]string{"url": *pageURL}
	}
	resp, err := a.do(ctx, http.MethodDelete, "/api/history", body, "application/json")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, decodeAPIError(resp)
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode clear response: %w", err)
	}
	return out.Deleted, nil
}

func (a *API) getJSON(ctx context.Context, path string, dst any) error {
	resp, err := a.do(ctx, http.MethodGet, path, nil, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (a *API) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, err
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error   string      `json:"error"`
		Message string      `json:"message"`
		Limit   int         `json:"limit"`
		Used    int         `json:"used"`
		Tier    models.Tier `json:"tier"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
		apiErr.Limit = body.Limit
		apiErr.Used = body.Used
		apiErr.Tier = body.Tier
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
