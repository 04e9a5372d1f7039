package client

import (
	"path/filepath"
	"testing"
	"time"

	"example/veritas-api/app/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTripsAndSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	s, err := OpenLocalStore(path)
	require.NoError(t, err)

	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutResult(CachedResult{URL: "https://a.example", Title: "A", Result: flaggedResult, AnalyzedAt: at}))
	require.NoError(t, s.PutHighlights("https://a.example", flaggedResult.FlaggedSnippets))
	require.NoError(t, s.Close())

	s, err = OpenLocalStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.Result("https://a.example")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, 40, got.Result.Score)
	assert.True(t, got.AnalyzedAt.Equal(at))

	hl, ok, err := s.Highlights("https://a.example")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, flaggedResult.FlaggedSnippets, hl)
}

func TestLocalStoreMissesAndEmptyHighlights(t *testing.T) {
	s := newTestLocalStore(t)

	_, ok, err := s.Result("https://nope.example")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutHighlights("https://clean.example", nil))
	hl, ok, err := s.Highlights("https://clean.example")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, hl)

	assert.Error(t, s.PutResult(CachedResult{}))
}

func TestLocalStoreDeleteSiteOnlyTouchesThatURL(t *testing.T) {
	s := newTestLocalStore(t)
	for _, u := range []string{"https://a.example", "https://b.example"} {
		require.NoError(t, s.PutResult(CachedResult{URL: u, Result: flaggedResult}))
		require.NoError(t, s.PutHighlights(u, flaggedResult.FlaggedSnippets))
	}

	require.NoError(t, s.DeleteSite("https://a.example"))
	require.NoError(t, s.DeleteSite("https://never.example"))

	_, ok, _ := s.Result("https://a.example")
	assert.False(t, ok)
	_, ok, _ = s.Highlights("https://a.example")
	assert.False(t, ok)
	_, ok, _ = s.Result("https://b.example")
	assert.True(t, ok)
}

func TestLocalStoreResultsNewestFirst(t *testing.T) {
	s := newTestLocalStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutResult(CachedResult{URL: "https://old.example", AnalyzedAt: base, Result: models.AnalysisResult{Score: 1}}))
	require.NoError(t, s.PutResult(CachedResult{URL: "https://new.example", AnalyzedAt: base.Add(time.Hour), Result: models.AnalysisResult{Score: 2}}))

	all, err := s.Results()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "https://new.example", all[0].URL)
	assert.Equal(t, "https://old.example", all[1].URL)
}

func TestOpenLocalStoreRequiresPath(t *testing.T) {
	_, err := OpenLocalStore("  ")
	assert.Error(t, err)
}
