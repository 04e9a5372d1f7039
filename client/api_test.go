package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"example/veritas-api/app/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completeFrame = `{"type":"complete","result":{"score":42,"bias":"center","flagged_snippets":[{"text":"x","category":"false_claim","explanation":"y","severity":"high","is_quote":false}]}}`

func gatewayServer(t *testing.T, h http.HandlerFunc) *API {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewAPI(srv.URL+"/", WithToken("tok"))
}

func TestStreamAnalyzeDeliversEventsInOrder(t *testing.T) {
	api := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze/stream", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"status\",\"message\":\"reading\"}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprintf(w, "data: %s\n\n", completeFrame)
	})

	var types []models.StreamEventType
	res, err := api.StreamAnalyze(context.Background(), models.AnalyzeRequest{Text: "t"}, func(ev models.StreamEvent) {
		types = append(types, ev.Type)
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res.Score)
	assert.Equal(t, []models.StreamEventType{models.EventStatus, models.EventComplete}, types)
}

func TestStreamAnalyzeUnavailableStatuses(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusBadGateway} {
		api := gatewayServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		})
		_, err := api.StreamAnalyze(context.Background(), models.AnalyzeRequest{Text: "t"}, nil)
		assert.ErrorIs(t, err, ErrStreamingUnavailable, "status %d", code)
	}
}

func TestEmptyStreamFallsBackThroughGateway(t *testing.T) {
	var streamCalls, analyzeCalls atomic.Int32
	api := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/analyze/stream":
			streamCalls.Add(1)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
		case "/api/analyze":
			analyzeCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"score":77,"bias":"right","flagged_snippets":[]}`)
		default:
			http.NotFound(w, r)
		}
	})

	_, err := api.StreamAnalyze(context.Background(), models.AnalyzeRequest{Text: "t"}, nil)
	require.ErrorIs(t, err, ErrStreamIncomplete)

	o := NewOrchestrator(api, newTestLocalStore(t), nil)
	var events []models.StreamEvent
	out, err := o.Analyze(context.Background(), pageRequest("https://a.example/empty"), func(ev models.StreamEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	assert.True(t, out.FellBack)
	assert.Equal(t, 77, out.Result.Score)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventComplete, events[0].Type)
	assert.Equal(t, int32(2), streamCalls.Load())
	assert.Equal(t, int32(1), analyzeCalls.Load())
}

func TestStreamAnalyzeIncompleteAndErrorFrames(t *testing.T) {
	api := gatewayServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"status\",\"message\":\"reading\"}\n\n")
	})
	_, err := api.StreamAnalyze(context.Background(), models.AnalyzeRequest{Text: "t"}, nil)
	assert.ErrorIs(t, err, ErrStreamIncomplete)

	api = gatewayServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"error\",\"message\":\"boom\"}\n\n")
	})
	_, err = api.StreamAnalyze(context.Background(), models.AnalyzeRequest{Text: "t"}, nil)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "boom", se.Message)
}

func TestLimitReachedDecodesAsAPIError(t *testing.T) {
	api := gatewayServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(models.LimitReached{
			Error: "limit_reached", Message: "Daily limit of 5 analyses reached.", Limit: 5, Used: 5, Tier: models.TierFree,
		})
	})

	_, err := api.Analyze(context.Background(), models.AnalyzeRequest{Text: "t"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.True(t, apiErr.IsLimitReached())
	assert.Equal(t, 5, apiErr.Limit)
	assert.Equal(t, models.TierFree, apiErr.Tier)
	assert.Contains(t, apiErr.Error(), "Daily limit")
}

func TestPlainTextErrorBody(t *testing.T) {
	api := gatewayServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	})
	_, err := api.Entitlement(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.IsLimitReached())
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestAnalyzeDecodesResult(t *testing.T) {
	api := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze", r.URL.Path)
		var req models.AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "body", req.Text)
		fmt.Fprint(w, `{"score":88,"bias":"left","flagged_snippets":[]}`)
	})
	res, err := api.Analyze(context.Background(), models.AnalyzeRequest{Text: "body"})
	require.NoError(t, err)
	assert.Equal(t, 88, res.Score)
	assert.Equal(t, "left", res.Bias)
}

func TestClearHistoryScopedAndUnscoped(t *testing.T) {
	var bodies []map[string]string
	api := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		body := map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		fmt.Fprint(w, `{"deleted":3}`)
	})

	n, err := api.ClearHistory(context.Background(), strPtr("https://a.example/x"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	_, err = api.ClearHistory(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, "https://a.example/x", bodies[0]["url"])
	assert.Empty(t, bodies[1])
}

func TestHistoryPaging(t *testing.T) {
	api := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		fmt.Fprint(w, `{"items":[{"id":7,"url":"https://a.example","trustScore":50}],"limit":10,"offset":20}`)
	})
	items, err := api.History(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 7, items[0].ID)
}
