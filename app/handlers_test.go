package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example/veritas-api/app/config"
	"example/veritas-api/app/models"
	"example/veritas-api/app/store"
	"example/veritas-api/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestEntitlementCreatesAccountOnFirstCall(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/user/entitlement", "")

	require.Equal(t, http.StatusOK, w.Code)
	var ent models.Entitlement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ent))
	assert.Equal(t, models.TierFree, ent.Tier)
	assert.Equal(t, 5, ent.DailyLimit)
	assert.Equal(t, 0, ent.Used)
	assert.Equal(t, 5, ent.Remaining)
	assert.Nil(t, ent.SubscriptionEndsAt)
}

func TestEntitlementExemptReportsUnlimited(t *testing.T) {
	f := newFixture(t, nil, func(c *config.Config) {
		c.UnlimitedAccountIDs = []string{testSubject}
	})
	f.useAnalyses(9)

	w := f.do(http.MethodGet, "/api/user/entitlement", "")

	require.Equal(t, http.StatusOK, w.Code)
	var ent models.Entitlement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ent))
	assert.Equal(t, models.Unlimited, ent.DailyLimit)
	assert.Equal(t, models.Unlimited, ent.Remaining)
	assert.Equal(t, 9, ent.Used)
}

func TestEntitlementExpiredBetaIsDowngraded(t *testing.T) {
	f := newFixture(t, nil)
	u := f.account()
	ended := f.clock.Now().Add(-time.Hour)
	require.NoError(t, f.store.SetTier(context.Background(), u.ID, models.TierBeta, 50, &ended, f.clock.Now()))
	f.useAnalyses(6)

	w := f.do(http.MethodGet, "/api/user/entitlement", "")

	require.Equal(t, http.StatusOK, w.Code)
	var ent models.Entitlement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ent))
	assert.Equal(t, models.TierFree, ent.Tier)
	assert.Equal(t, 5, ent.DailyLimit)
	assert.Equal(t, 0, ent.Remaining)
	assert.Nil(t, ent.SubscriptionEndsAt)

	stored := f.account()
	assert.Equal(t, models.TierFree, stored.Tier)
}

func TestEntitlementActiveBetaKeepsLimit(t *testing.T) {
	f := newFixture(t, nil)
	u := f.account()
	ends := f.clock.Now().Add(48 * time.Hour)
	require.NoError(t, f.store.SetTier(context.Background(), u.ID, models.TierBeta, 50, &ends, f.clock.Now()))

	w := f.do(http.MethodGet, "/api/user/entitlement", "")

	var ent models.Entitlement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ent))
	assert.Equal(t, models.TierBeta, ent.Tier)
	assert.Equal(t, 50, ent.DailyLimit)
	require.NotNil(t, ent.SubscriptionEndsAt)
}

func seedHistory(t *testing.T, f *fixture, userID int64, urls ...string) {
	t.Helper()
	for _, u := range urls {
		url := u
		res := models.AnalysisResult{Score: 90, Bias: "center", FlaggedSnippets: []models.FlaggedSnippet{}}
		_, err := f.store.UpsertAnalysis(context.Background(), models.NewAnalysisRecord(userID, &url, nil, res, f.clock.Now()))
		require.NoError(t, err)
	}
}

func TestClearHistoryScopedAndUnscoped(t *testing.T) {
	f := newFixture(t, nil)
	me := f.account()
	seedHistory(t, f, me.ID, "https://a.example", "https://b.example")

	require.NoError(t, f.store.EnsureUser(context.Background(), store.NewUser{Subject: "someone-else", Limit: 5}, f.clock.Now()))
	other, err := f.store.GetUserBySubject(context.Background(), "someone-else")
	require.NoError(t, err)
	seedHistory(t, f, other.ID, "https://a.example")

	w := f.do(http.MethodDelete, "/api/history", `{"url":"https://a.example"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())
	require.Len(t, f.history(), 1)

	w = f.do(http.MethodDelete, "/api/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())
	assert.Empty(t, f.history())

	left, err := f.store.ListHistory(context.Background(), other.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestListHistoryAndStats(t *testing.T) {
	f := newFixture(t, sseUpstream(completeFrame))
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/analyze/stream", analyzeBody).Code)

	w := f.do(http.MethodGet, "/api/history?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []models.AnalysisRecord `json:"items"`
		Limit int                     `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 10, page.Limit)
	require.Len(t, page.Items, 1)

	w = f.do(http.MethodGet, "/api/history/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.HistoryStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.WithMisinformation)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/history?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/history?offset=-1", "").Code)
}

func signedWebhook(t *testing.T, f *fixture, payload string) *httptest.ResponseRecorder {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func proCustomer(t *testing.T, f *fixture, customerID string) models.UserAccount {
	t.Helper()
	ctx := context.Background()
	u := f.account()
	require.NoError(t, f.store.SetBillingCustomer(ctx, u.AuthSub, customerID))
	require.NoError(t, f.store.SetTier(ctx, u.ID, models.TierPro, 200, nil, f.clock.Now()))
	return u
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhookSubscriptionDeletedDowngrades(t *testing.T) {
	f := newFixture(t, nil)
	proCustomer(t, f, "cus_123")

	w := signedWebhook(t, f, `{
		"id": "evt_1",
		"object": "event",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "object": "subscription", "customer": "cus_123", "status": "canceled"}}
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	u := f.account()
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Equal(t, 5, u.DailyAnalysisLimit)
}

func TestStripeWebhookSubscriptionUpdatedActive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.account()
	require.NoError(t, f.store.SetBillingCustomer(ctx, u.AuthSub, "cus_456"))

	w := signedWebhook(t, f, `{
		"id": "evt_2",
		"object": "event",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_9", "object": "subscription", "customer": "cus_456", "status": "active", "current_period_end": 1893456000}}
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	u = f.account()
	assert.Equal(t, models.TierPro, u.Tier)
	assert.Equal(t, 200, u.DailyAnalysisLimit)
	require.NotNil(t, u.BillingSubscriptionID)
	assert.Equal(t, "sub_9", *u.BillingSubscriptionID)
	require.NotNil(t, u.SubscriptionEndsAt)
	assert.Equal(t, int64(1893456000), u.SubscriptionEndsAt.Unix())
}

func TestStripeWebhookUnknownCustomerIsAcknowledged(t *testing.T) {
	f := newFixture(t, nil)
	w := signedWebhook(t, f, `{
		"id": "evt_3",
		"object": "event",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "object": "subscription", "customer": "cus_missing", "status": "canceled"}}
	}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRedeemBeta(t *testing.T) {
	f := newFixture(t, nil, func(c *config.Config) { c.Limits.BetaCode = "early-bird" })

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/billing/redeem-beta", `{"code":"nope"}`).Code)

	w := f.do(http.MethodPost, "/api/billing/redeem-beta", `{"code":"early-bird"}`)
	require.Equal(t, http.StatusOK, w.Code)
	u := f.account()
	assert.Equal(t, models.TierBeta, u.Tier)
	assert.Equal(t, 50, u.DailyAnalysisLimit)
	require.NotNil(t, u.SubscriptionEndsAt)
	assert.WithinDuration(t, f.clock.Now().Add(30*24*time.Hour), *u.SubscriptionEndsAt, time.Second)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/billing/redeem-beta", `{"code":"early-bird"}`).Code)
}

func TestRedeemBetaWithoutProgram(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/billing/redeem-beta", `{"code":"x"}`).Code)
}

func TestPortalSessionRequiresCustomer(t *testing.T) {
	f := newFixture(t, nil, func(c *config.Config) { c.Stripe.FrontendURL = "https://app.example" })
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/billing/portal-session", "").Code)
}

func TestSweepExpiredBeta(t *testing.T) {
	f := newFixture(t, nil)
	u := f.account()
	ended := f.clock.Now().Add(-time.Minute)
	require.NoError(t, f.store.SetTier(context.Background(), u.ID, models.TierBeta, 50, &ended, f.clock.Now()))

	n, err := f.server.SweepExpiredBeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, models.TierFree, f.account().Tier)

	n, err = f.server.SweepExpiredBeta(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMaintenanceRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, nil, func(c *config.Config) { c.Limits.SweepSchedule = "not a schedule" })
	_, err := NewMaintenance(f.server)
	assert.Error(t, err)

	f.cfg.Limits.SweepSchedule = "5 0 * * *"
	m, err := NewMaintenance(f.server)
	require.NoError(t, err)
	m.Start()
	m.Stop()
}

func TestRateKey(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
	c.Request.RemoteAddr = "203.0.113.9:4444"
	assert.Equal(t, "rl:ip:203.0.113.9", rateKey("rl", c))

	c.Request = c.Request.WithContext(auth.WithClaims(c.Request.Context(), &auth.Claims{Subject: "auth0|abc"}))
	assert.Equal(t, "rl:user:auth0|abc", rateKey("rl", c))
}

func TestRateLimitWithoutRedisIsNoop(t *testing.T) {
	mw := RateLimit(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil)
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
