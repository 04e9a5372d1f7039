package app

import (
	"context"
	"time"

	"example/veritas-api/app/models"
	"example/veritas-api/app/store"
	"example/veritas-api/events"
	"example/veritas-api/inference"

	"github.com/rs/zerolog/log"
)

const defaultSettleTimeout = 10 * time.Second

// Settlement is the bookkeeping input for one completed analysis.
type Settlement struct {
	Account models.UserAccount
	Exempt  bool
	// Counted is set when usage was already incremented before inference
	// (non-streaming path).
	Counted   bool
	Streamed  bool
	Request   models.AnalyzeRequest
	Result    models.AnalysisResult
	RequestID string
}

// Settler records usage and history after a genuine completion. Its effects
// are independent and never fail the caller.
type Settler struct {
	store   *store.Store
	events  events.Publisher
	cache   *inference.ResultCache
	timeout time.Duration
	now     func() time.Time
}

func NewSettler(s *store.Store, pub events.Publisher, cache *inference.ResultCache, timeout time.Duration, now func() time.Time) *Settler {
	if timeout <= 0 {
		timeout = defaultSettleTimeout
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if now == nil {
		now = time.Now
	}
	return &Settler{store: s, events: pub, cache: cache, timeout: timeout, now: now}
}

// Settle runs detached from the caller's cancellation so a client hanging up
// right after the complete frame still gets its analysis recorded.
func (s *Settler) Settle(ctx context.Context, st Settlement) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	logger := log.Ctx(ctx).With().Int64("user_id", st.Account.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("settle: recovered")
		}
	}()
	now := s.now()

	if !st.Exempt && !st.Counted {
		if err := s.store.IncrementUsage(ctx, st.Account.ID, now); err != nil {
			logger.Error().Err(err).Msg("settle: usage increment failed")
		}
	}

	s.cache.Set(ctx, st.Request.URL, st.Request.Text, st.Result)

	rec := models.NewAnalysisRecord(st.Account.ID, st.Request.URL, st.Request.Title, st.Result, now)
	id, err := s.store.UpsertAnalysis(ctx, rec)
	if err != nil {
		logger.Error().Err(err).Msg("settle: history upsert failed")
		return
	}

	ev := events.AnalysisCompleted{
		RequestID:         st.RequestID,
		UserID:            st.Account.ID,
		Subject:           st.Account.AuthSub,
		RecordID:          id,
		URL:               rec.URL,
		TrustScore:        rec.TrustScore,
		HasMisinformation: rec.HasMisinformation,
		Tags:              rec.Tags,
		Bias:              rec.Bias,
		Streamed:          st.Streamed,
		AnalyzedAt:        now,
	}
	if err := s.events.PublishAnalysisCompleted(ctx, ev); err != nil {
		logger.Warn().Err(err).Msg("settle: publish analysis.completed failed")
	}
}

// CountUsage increments usage ahead of a non-streaming inference call.
func (s *Settler) CountUsage(ctx context.Context, d Decision) error {
	if d.Exempt {
		return nil
	}
	return s.store.IncrementUsage(ctx, d.Account.ID, s.now())
}
