package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"example/veritas-api/app/models"

	"github.com/rs/zerolog/log"
)

// Highlighter marks flagged snippets in a rendered page. Apply returns
// ErrNoReceiver when the page has no highlight script loaded yet.
type Highlighter interface {
	Apply(ctx context.Context, url string, snippets []models.FlaggedSnippet) error
	Clear(ctx context.Context, url string) error
	Inject(ctx context.Context, url string) error
}

// Outcome is what Analyze hands back to the caller.
type Outcome struct {
	Result   models.AnalysisResult
	Cached   bool
	FellBack bool
}

type inflight struct {
	url    string
	cancel context.CancelCauseFunc
}

// Orchestrator runs at most one analysis at a time for a tab.
type Orchestrator struct {
	gateway     Gateway
	store       *LocalStore
	highlighter Highlighter
	streaming   bool
	now         func() time.Time

	mu      sync.Mutex
	current *inflight
}

type OrchestratorOption func(*Orchestrator)

// WithStreaming toggles the streaming endpoint. Disabled, every analysis
// goes straight to the non-streaming endpoint.
func WithStreaming(on bool) OrchestratorOption {
	return func(o *Orchestrator) { o.streaming = on }
}

func NewOrchestrator(gw Gateway, store *LocalStore, h Highlighter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{gateway: gw, store: store, highlighter: h, streaming: true, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze runs an analysis for req, cancelling any analysis already in
// flight. Cached URLs are served locally unless req.ForceRefresh is set.
// onEvent receives every frame, including a synthesized complete frame when
// the non-streaming fallback is used.
func (o *Orchestrator) Analyze(ctx context.Context, req models.AnalyzeRequest, onEvent func(models.StreamEvent)) (Outcome, error) {
	req.Normalize()
	url := ""
	if req.URL != nil {
		url = *req.URL
	}
	ctx, done := o.begin(ctx, url)
	defer done()
	logger := log.Ctx(ctx).With().Str("url", url).Logger()

	if !req.ForceRefresh && url != "" && o.store != nil {
		cached, ok, err := o.store.Result(url)
		if err != nil {
			logger.Warn().Err(err).Msg("local cache read failed")
		}
		if ok {
			o.reapply(ctx, url, cached.Result)
			return Outcome{Result: cached.Result, Cached: true}, nil
		}
	}

	if ctx.Err() != nil {
		return Outcome{}, context.Cause(ctx)
	}
	res, err := o.stream(ctx, req, onEvent)
	fellBack := false
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, context.Cause(ctx)
		}
		if !errors.Is(err, ErrStreamingUnavailable) && !errors.Is(err, ErrStreamIncomplete) {
			return Outcome{}, err
		}
		logger.Info().Err(err).Msg("stream unusable, retrying without streaming")
		if ctx.Err() != nil {
			return Outcome{}, context.Cause(ctx)
		}
		res, err = o.gateway.Analyze(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, context.Cause(ctx)
			}
			return Outcome{}, err
		}
		fellBack = o.streaming
		emitComplete(onEvent, res)
	}
	if ctx.Err() != nil {
		return Outcome{}, context.Cause(ctx)
	}

	if url != "" && o.store != nil {
		title := ""
		if req.Title != nil {
			title = *req.Title
		}
		if err := o.store.PutResult(CachedResult{URL: url, Title: title, Result: res, AnalyzedAt: o.now()}); err != nil {
			logger.Warn().Err(err).Msg("local cache write failed")
		}
		if err := o.store.PutHighlights(url, res.FlaggedSnippets); err != nil {
			logger.Warn().Err(err).Msg("highlight state write failed")
		}
	}
	o.highlight(ctx, url, res.FlaggedSnippets)
	return Outcome{Result: res, FellBack: fellBack}, nil
}

// NavigatedTo cancels the in-flight analysis when the tab moves to another URL.
func (o *Orchestrator) NavigatedTo(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && o.current.url != url {
		o.current.cancel(ErrNavigatedAway)
	}
}

// TabClosed cancels the in-flight analysis.
func (o *Orchestrator) TabClosed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.cancel(ErrTabClosed)
	}
}

// ClearSiteData forgets everything known about url locally and asks the
// gateway to drop its history for it. Only local failures are returned.
func (o *Orchestrator) ClearSiteData(ctx context.Context, url string) error {
	logger := log.Ctx(ctx).With().Str("url", url).Logger()
	var localErr error
	if o.store != nil {
		localErr = o.store.DeleteSite(url)
	}
	if o.highlighter != nil {
		if err := o.highlighter.Clear(ctx, url); err != nil {
			logger.Debug().Err(err).Msg("highlight removal failed")
		}
	}
	if o.gateway != nil {
		if _, err := o.gateway.ClearHistory(ctx, &url); err != nil {
			logger.Warn().Err(err).Msg("server history clear failed")
		}
	}
	return localErr
}

func (o *Orchestrator) stream(ctx context.Context, req models.AnalyzeRequest, onEvent func(models.StreamEvent)) (models.AnalysisResult, error) {
	if !o.streaming {
		return models.AnalysisResult{}, ErrStreamingUnavailable
	}
	return o.gateway.StreamAnalyze(ctx, req, onEvent)
}

func (o *Orchestrator) begin(parent context.Context, url string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	cur := &inflight{url: url, cancel: cancel}

	o.mu.Lock()
	if o.current != nil {
		o.current.cancel(ErrSuperseded)
	}
	o.current = cur
	o.mu.Unlock()

	return ctx, func() {
		o.mu.Lock()
		if o.current == cur {
			o.current = nil
		}
		o.mu.Unlock()
		cancel(nil)
	}
}

// reapply restores highlights for a cached page, preferring the stored
// highlight state over the result's snippets.
func (o *Orchestrator) reapply(ctx context.Context, url string, res models.AnalysisResult) {
	snippets := res.FlaggedSnippets
	if o.store != nil {
		if stored, ok, err := o.store.Highlights(url); err == nil && ok {
			snippets = stored
		}
	}
	o.highlight(ctx, url, snippets)
}

// highlight injects the receiver once on ErrNoReceiver and retries once.
// Failures are not reported.
func (o *Orchestrator) highlight(ctx context.Context, url string, snippets []models.FlaggedSnippet) {
	if o.highlighter == nil || len(snippets) == 0 {
		return
	}
	logger := log.Ctx(ctx).With().Str("url", url).Logger()
	err := o.highlighter.Apply(ctx, url, snippets)
	if errors.Is(err, ErrNoReceiver) {
		if injErr := o.highlighter.Inject(ctx, url); injErr != nil {
			logger.Debug().Err(injErr).Msg("highlight inject failed")
			return
		}
		err = o.highlighter.Apply(ctx, url, snippets)
	}
	if err != nil {
		logger.Debug().Err(err).Msg("highlight apply failed")
	}
}

func emitComplete(onEvent func(models.StreamEvent), res models.AnalysisResult) {
	if onEvent == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	onEvent(models.StreamEvent{Type: models.EventComplete, Result: raw})
}
