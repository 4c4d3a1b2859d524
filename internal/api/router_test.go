package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/marketdata/internal/api/handlers"
	"github.com/wonny/marketdata/internal/budget"
	"github.com/wonny/marketdata/internal/cache"
	"github.com/wonny/marketdata/internal/marketdata"
	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/pkg/clock"
	"github.com/wonny/marketdata/pkg/logger"
)

var now = time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	outcomes map[string]marketdata.Outcome
}

func (f *fakeFetcher) FetchSeries(ctx context.Context, symbol, period string) marketdata.Outcome {
	if period == "bogus" {
		return marketdata.Outcome{Kind: marketdata.Failed, Symbol: symbol, Err: fmt.Errorf("%w: %q", marketdata.ErrInvalidPeriod, period)}
	}
	if out, ok := f.outcomes[symbol]; ok {
		return out
	}
	return marketdata.Outcome{
		Kind:     marketdata.Failed,
		Symbol:   symbol,
		Err:      marketdata.ErrNoDataAvailable,
		Attempts: []marketdata.Attempt{{Provider: "alphavantage", Kind: marketdata.Unavailable}},
	}
}

type fakeInFlight int

func (f fakeInFlight) InFlight() int { return int(f) }

func testEntry(providerName, symbol string, asOf, fetchedAt time.Time) *cache.Entry {
	s := &provider.Series{Symbol: symbol, Provider: providerName, Granularity: provider.Daily}
	for i := 2; i >= 0; i-- {
		s.Points = append(s.Points, provider.Point{
			Date:   asOf.AddDate(0, 0, -i),
			Value:  decimal.NewFromFloat(100.5 + float64(i)),
			Volume: 1000,
		})
	}
	return &cache.Entry{
		Key:       cache.Key{Provider: providerName, Symbol: symbol, Granularity: provider.Daily},
		Series:    s,
		AsOf:      asOf,
		FetchedAt: fetchedAt,
		TTLClass:  cache.TTLDaily,
	}
}

type testServer struct {
	handler http.Handler
	tracker *budget.Tracker
	store   *cache.MemoryStore
}

func newTestServer(t *testing.T, checks map[string]handlers.HealthCheck) *testServer {
	t.Helper()
	log := logger.Nop()
	clk := clock.NewFake(now)

	store := cache.NewMemoryStore()
	tracker := budget.NewTracker(budget.NewMemoryStore(), map[string]int{"alphavantage": 25, "yahoo": 0}, clk, log)

	fresh := testEntry("alphavantage", "SPY", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), now.Add(-time.Hour))
	stale := testEntry("yahoo", "QQQ", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), now.AddDate(0, 0, -10))
	stale.Stale = true

	fetcher := &fakeFetcher{outcomes: map[string]marketdata.Outcome{
		"SPY": {Kind: marketdata.Fresh, Symbol: "SPY", Provider: "alphavantage", Entry: fresh, Series: fresh.Series},
		"QQQ": {
			Kind:     marketdata.Stale,
			Symbol:   "QQQ",
			Provider: "yahoo",
			Entry:    stale,
			Series:   stale.Series,
			Reason:   marketdata.ReasonAllProvidersFailed,
			Attempts: []marketdata.Attempt{{Provider: "yahoo", Kind: marketdata.TransientError, Detail: "HTTP 503"}},
		},
	}}

	require.NoError(t, store.Put(context.Background(), fresh))

	freshness := handlers.FreshnessFunc(func(e *cache.Entry) bool {
		return cache.IsFresh(e, e.TTLClass, clk.Now())
	})

	h := Handlers{
		Health: handlers.NewHealthHandler("marketdata", checks, fakeInFlight(2)),
		Series: handlers.NewSeriesHandler(fetcher, log),
		Budget: handlers.NewBudgetHandler(tracker, log),
		Cache:  handlers.NewCacheHandler(store, freshness, log),
	}

	return &testServer{
		handler: NewRouter(h, log),
		tracker: tracker,
		store:   store,
	}
}

func (s *testServer) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, map[string]handlers.HealthCheck{
		"cache": func(ctx context.Context) error { return nil },
	})

	rec, body := srv.get(t, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "marketdata", body["service"])
	assert.Equal(t, float64(2), body["in_flight"])
	assert.Equal(t, map[string]interface{}{"cache": "ok"}, body["backends"])
}

func TestHealthDegraded(t *testing.T) {
	srv := newTestServer(t, map[string]handlers.HealthCheck{
		"cache":  func(ctx context.Context) error { return nil },
		"budget": func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rec, body := srv.get(t, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	backends := body["backends"].(map[string]interface{})
	assert.Equal(t, "connection refused", backends["budget"])
	assert.Equal(t, "ok", backends["cache"])
}

func TestGetSeries(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("fresh", func(t *testing.T) {
		rec, body := srv.get(t, "/api/series/SPY?period=1mo")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Warning"))
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "fresh", body["kind"])
		assert.Equal(t, false, body["stale"])
		assert.Equal(t, "alphavantage", body["provider"])
		assert.Equal(t, "2024-03-11", body["as_of_date"])
		assert.Equal(t, "daily", body["ttl_class"])

		points := body["points"].([]interface{})
		require.Len(t, points, 3)
		last := points[2].(map[string]interface{})
		assert.Equal(t, "2024-03-11", last["date"])
		assert.Equal(t, "100.5", last["value"])
	})

	t.Run("stale", func(t *testing.T) {
		rec, body := srv.get(t, "/api/series/QQQ")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Warning"))
		assert.Equal(t, "stale", body["kind"])
		assert.Equal(t, true, body["stale"])
		assert.Equal(t, marketdata.ReasonAllProvidersFailed, body["reason"])

		attempts := body["attempts"].([]interface{})
		require.Len(t, attempts, 1)
		assert.Equal(t, "transient_error", attempts[0].(map[string]interface{})["kind"])
	})

	t.Run("no data", func(t *testing.T) {
		rec, body := srv.get(t, "/api/series/NOPE")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "failed", body["kind"])
		assert.Equal(t, marketdata.ErrNoDataAvailable.Error(), body["error"])
		assert.Empty(t, body["points"])
	})

	t.Run("invalid period", func(t *testing.T) {
		rec, body := srv.get(t, "/api/series/SPY?period=bogus")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, false, body["success"])
	})
}

func TestGetBudget(t *testing.T) {
	srv := newTestServer(t, nil)
	ticket := srv.tracker.Reserve(context.Background(), "alphavantage")
	require.Equal(t, budget.Reserved, ticket.State)

	t.Run("list", func(t *testing.T) {
		rec, body := srv.get(t, "/api/budget")

		assert.Equal(t, http.StatusOK, rec.Code)
		data := body["data"].([]interface{})
		require.Len(t, data, 2)

		av := data[0].(map[string]interface{})
		assert.Equal(t, "alphavantage", av["provider"])
		assert.Equal(t, float64(1), av["used"])
		assert.Equal(t, float64(24), av["remaining"])
		assert.Equal(t, "2024-03-13T00:00:00Z", av["resets_at"])

		yahoo := data[1].(map[string]interface{})
		assert.Equal(t, "yahoo", yahoo["provider"])
		assert.Equal(t, true, yahoo["unmetered"])
	})

	t.Run("single", func(t *testing.T) {
		rec, body := srv.get(t, "/api/budget/alphavantage")

		assert.Equal(t, http.StatusOK, rec.Code)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, float64(25), data["limit"])
	})

	t.Run("unknown provider", func(t *testing.T) {
		rec, body := srv.get(t, "/api/budget/quandl")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, body["error"], "quandl")
	})
}

func TestGetCacheEntry(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{"default granularity", "/api/cache/alphavantage/SPY", http.StatusOK},
		{"explicit granularity", "/api/cache/alphavantage/SPY?granularity=daily", http.StatusOK},
		{"other granularity", "/api/cache/alphavantage/SPY?granularity=weekly", http.StatusNotFound},
		{"missing provider", "/api/cache/yahoo/SPY", http.StatusNotFound},
		{"bad granularity", "/api/cache/alphavantage/SPY?granularity=hourly", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := srv.get(t, tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	_, body := srv.get(t, "/api/cache/alphavantage/SPY")
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "2024-03-11", data["as_of_date"])
	assert.Equal(t, "2024-03-09", data["first_date"])
	assert.Equal(t, float64(3), data["points"])
	assert.Equal(t, true, data["fresh"])
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/nothing", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
