package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"example/veritas-api/app/config"
	"example/veritas-api/app/models"
	"example/veritas-api/app/store"
	"example/veritas-api/inference"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	testSubject       = "local-dev"
	testWebhookSecret = "whsec_test_secret"

	statusFrame   = `{"type":"status","progress":0.1,"message":"reading"}`
	snippetFrame  = `{"type":"snippet","snippet":{"text":"the moon is cheese","category":"false_claim","explanation":"it is not","severity":"high","is_quote":false}}`
	completeFrame = `{"type":"complete","result":{"score":42,"bias":"center","flagged_snippets":[{"text":"the moon is cheese","category":"false_claim","explanation":"it is not","severity":"high","is_quote":false}],"summary":"mostly wrong"}}`
	errorFrame    = `{"type":"error","message":"model overloaded"}`
	predictBody   = `{"score":88,"bias":"left","flagged_snippets":[],"summary":"fine"}`
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	t        *testing.T
	cfg      *config.Config
	store    *store.Store
	server   *Server
	router   *gin.Engine
	clock    *testClock
	upstream *httptest.Server
}

func testConfig() *config.Config {
	return &config.Config{
		CORSOrigins: []string{"*"},
		Inference: config.InferenceConfig{
			Timeout:       2 * time.Second,
			SettleTimeout: 5 * time.Second,
		},
		Limits: config.LimitConfig{
			Free:     5,
			Beta:     50,
			Pro:      200,
			BetaDays: 30,
			Location: time.UTC,
		},
		Stripe: config.StripeConfig{WebhookSecret: testWebhookSecret},
		Auth:   config.AuthConfig{Disabled: true},
	}
}

// newFixture wires a Server against a SQLite store and a fake inference
// service. Auth runs in local mode so every request is testSubject.
func newFixture(t *testing.T, upstream http.Handler, tweak ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, fn := range tweak {
		fn(cfg)
	}

	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	if upstream == nil {
		upstream = http.NotFoundHandler()
	}
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	clock := &testClock{now: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)}
	srv := NewServer(Deps{
		Config:    cfg,
		Store:     st,
		Inference: inference.New(up.URL, inference.WithTimeout(cfg.Inference.Timeout)),
		Now:       clock.Now,
	})
	router, err := NewRouter(srv)
	require.NoError(t, err)

	return &fixture{t: t, cfg: cfg, store: st, server: srv, router: router, clock: clock, upstream: up}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// account returns the local user, creating it if needed.
func (f *fixture) account() models.UserAccount {
	f.t.Helper()
	ctx := context.Background()
	require.NoError(f.t, f.store.EnsureUser(ctx, store.NewUser{Subject: testSubject, Limit: f.cfg.Limits.Free}, f.clock.Now()))
	u, err := f.store.GetUserBySubject(ctx, testSubject)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) useAnalyses(n int) {
	f.t.Helper()
	u := f.account()
	for i := 0; i < n; i++ {
		require.NoError(f.t, f.store.IncrementUsage(context.Background(), u.ID, f.clock.Now()))
	}
}

func (f *fixture) history() []models.AnalysisRecord {
	f.t.Helper()
	recs, err := f.store.ListHistory(context.Background(), f.account().ID, 100, 0)
	require.NoError(f.t, err)
	return recs
}

// sseUpstream serves frames on /predict/stream and 404s everything else.
func sseUpstream(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			w.(http.Flusher).Flush()
		}
	}
}

func sseBody(frames ...string) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: ")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	return b.String()
}
