package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageHTML = `<!doctype html>
<html><head><title>Health Claims Roundup</title></head>
<body><article>
<h1>Health Claims Roundup</h1>
<p>Several posts this week claimed that drinking seawater cures the flu. Doctors interviewed for this piece said there is no evidence for that and that it can cause dehydration.</p>
<p>Other claims circulating online were more mundane, such as advice to wash hands often and to stay home when sick, which public health agencies continue to recommend.</p>
<p>Readers are encouraged to check sources and to look for peer reviewed research before sharing medical advice with friends and family.</p>
</article></body></html>`

const streamResult = `{"score":35,"bias":"center","summary":"One false medical claim.","flagged_snippets":[{"text":"drinking seawater cures the flu","category":"false_claim","explanation":"No evidence.","severity":"high","is_quote":false}]}`

type fakeGateway struct {
	streams atomic.Int32
	cleared atomic.Int32
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyze/stream", func(w http.ResponseWriter, r *http.Request) {
		g.streams.Add(1)
		assert.Equal(t, "Bearer cli-token", r.Header.Get("Authorization"))
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req["text"], "seawater")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"status\",\"message\":\"reading page\"}\n\n")
		fmt.Fprintf(w, "data: {\"type\":\"complete\",\"result\":%s}\n\n", streamResult)
	})
	mux.HandleFunc("GET /api/user/entitlement", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"tier":"free","dailyLimit":5,"used":2,"remaining":3,"subscriptionEndsAt":null,"billingCustomerId":null}`)
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"items":[{"id":1,"userId":1,"url":"https://news.example/a","title":null,"trustScore":35,"hasMisinformation":true,"tags":["false_claim"],"bias":"center","analyzedAt":"2026-03-14T14:00:00Z"}],"limit":20,"offset":0}`)
	})
	mux.HandleFunc("DELETE /api/history", func(w http.ResponseWriter, _ *http.Request) {
		g.cleared.Add(1)
		fmt.Fprint(w, `{"deleted":1}`)
	})
	return mux
}

type cliFixture struct {
	wiring  commandWiring
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	gateway *fakeGateway
	dir     string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	gw := &fakeGateway{}
	srv := httptest.NewServer(gw.handler(t))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("VERITAS_GATEWAY_URL", srv.URL)
	t.Setenv("VERITAS_TOKEN", "cli-token")
	t.Setenv("VERITAS_CACHE_PATH", filepath.Join(dir, "cache.db"))

	f := &cliFixture{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, gateway: gw, dir: dir}
	f.wiring = commandWiring{
		stdout:     f.stdout,
		stderr:     f.stderr,
		configPath: filepath.Join(dir, "config.toml"),
		now:        func() time.Time { return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC) },
	}
	return f
}

func (f *cliFixture) run(t *testing.T, args ...string) error {
	t.Helper()
	f.stdout.Reset()
	return buildCommands(f.wiring)[args[0]].Run(args[1:])
}

func (f *cliFixture) writePage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(f.dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte(pageHTML), 0o600))
	return path
}

func TestAnalyzeLocalFileStreamsThenServesFromCache(t *testing.T) {
	f := newCLIFixture(t)
	page := f.writePage(t)

	require.NoError(t, f.run(t, "analyze", page))
	out := f.stdout.String()
	assert.Contains(t, out, "Health Claims Roundup")
	assert.Contains(t, out, "35/100")
	assert.Contains(t, out, "possible misinformation")
	assert.Contains(t, out, "drinking seawater cures the flu")
	assert.Contains(t, out, "false_claim/high")
	assert.Contains(t, f.stderr.String(), "reading page")

	require.NoError(t, f.run(t, "analyze", page))
	assert.Contains(t, f.stdout.String(), "cached")
	assert.EqualValues(t, 1, f.gateway.streams.Load())

	require.NoError(t, f.run(t, "analyze", "--force", page))
	assert.EqualValues(t, 2, f.gateway.streams.Load())
}

func TestAnalyzeRequiresTarget(t *testing.T) {
	f := newCLIFixture(t)
	assert.Error(t, f.run(t, "analyze"))
}

func TestEntitlementCommand(t *testing.T) {
	f := newCLIFixture(t)
	require.NoError(t, f.run(t, "entitlement"))
	assert.Contains(t, f.stdout.String(), "2/5 today, 3 remaining")
}

func TestHistoryCommand(t *testing.T) {
	f := newCLIFixture(t)
	require.NoError(t, f.run(t, "history"))
	out := f.stdout.String()
	assert.Contains(t, out, "https://news.example/a")
	assert.Contains(t, out, "1 hour ago")
	assert.Contains(t, out, "yes")
}

func TestClearCommandForgetsLocalCache(t *testing.T) {
	f := newCLIFixture(t)
	page := f.writePage(t)
	require.NoError(t, f.run(t, "analyze", "--quiet", page))

	require.NoError(t, f.run(t, "history", "--local"))
	require.Equal(t, 2, strings.Count(strings.TrimSpace(f.stdout.String()), "\n")+1)

	require.NoError(t, f.run(t, "clear", "--all"))
	assert.Contains(t, f.stdout.String(), "1 cached pages")
	assert.EqualValues(t, 1, f.gateway.cleared.Load())

	require.NoError(t, f.run(t, "history", "--local"))
	assert.Equal(t, 0, strings.Count(strings.TrimSpace(f.stdout.String()), "\n"))
}

func TestClearCommandUsage(t *testing.T) {
	f := newCLIFixture(t)
	assert.Error(t, f.run(t, "clear"))
	assert.Error(t, f.run(t, "clear", "--all", "https://a.example"))
}

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	f := newCLIFixture(t)
	require.NoError(t, f.run(t, "config", "--write"))
	assert.Contains(t, f.stdout.String(), "cli-token")
	_, err := os.Stat(f.wiring.configPath)
	assert.NoError(t, err)
}
