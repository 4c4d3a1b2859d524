package alphavantage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/internal/retry"
	"github.com/wonny/marketdata/pkg/config"
	"github.com/wonny/marketdata/pkg/logger"
)

const dailyBody = `{
    "Meta Data": {"2. Symbol": "IBM", "3. Last Refreshed": "2024-03-08"},
    "Time Series (Daily)": {
        "2024-03-08": {"1. open": "195.00", "4. close": "196.9400", "5. volume": "4178236"},
        "2024-03-06": {"1. open": "193.50", "4. close": "193.5000", "5. volume": "3512030"},
        "2024-03-07": {"1. open": "194.00", "4. close": "195.0100", "5. volume": "3908021"}
    }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	policy := retry.DefaultPolicy()
	policy.Sleep = retry.NoSleep

	client := NewClient(config.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: time.Second,
	}, policy, logger.Nop())

	return client, &calls
}

func dailyRequest() provider.Request {
	return provider.Request{Symbol: "IBM", Granularity: provider.Daily}
}

func TestFetchDaily(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		assert.Equal(t, "IBM", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Write([]byte(dailyBody))
	})

	res := client.Fetch(context.Background(), dailyRequest())
	require.True(t, res.IsOK(), res.Detail)

	assert.Equal(t, int32(1), *calls)
	require.Equal(t, 3, res.Series.Len())
	assert.Equal(t, Name, res.Series.Provider)
	assert.Equal(t, "2024-03-06", res.Series.Points[0].Date.Format(provider.DateLayout))
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), res.Series.AsOf())
	assert.True(t, res.Series.Points[2].Value.Equal(decimal.RequireFromString("196.94")))
	assert.Equal(t, int64(4178236), res.Series.Points[2].Volume)
}

func TestFetchRateLimitNote(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`))
	})

	res := client.Fetch(context.Background(), dailyRequest())

	assert.Equal(t, provider.StatusRateLimited, res.Status)
	assert.Contains(t, res.Detail, "call frequency")
	assert.Equal(t, int32(2), *calls, "rate limited calls get exactly one retry")
}

func TestFetchPremiumOnlyIsNotRetried(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Information": "Thank you for using Alpha Vantage! The outputsize=full parameter value is a premium feature for the TIME_SERIES_DAILY endpoint."}`))
	})

	res := client.Fetch(context.Background(), dailyRequest())

	assert.Equal(t, provider.StatusUnavailable, res.Status)
	assert.Equal(t, int32(1), *calls)
}

func TestFetchFreeKeyRequestsCompact(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "compact", r.URL.Query().Get("outputsize"))
		w.Write([]byte(dailyBody))
	})

	to := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	res := client.Fetch(context.Background(), provider.Request{
		Symbol:      "IBM",
		Granularity: provider.Daily,
		From:        to.AddDate(-5, 0, 0),
		To:          to,
	})
	require.True(t, res.IsOK(), res.Detail)
}

func TestFetchHTTP429(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := client.Fetch(context.Background(), dailyRequest())

	assert.Equal(t, provider.StatusRateLimited, res.Status)
	assert.Equal(t, int32(2), *calls)
}

func TestFetchEmptyBodyIsMalformed(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	res := client.Fetch(context.Background(), dailyRequest())

	assert.Equal(t, provider.StatusMalformedResponse, res.Status)
	assert.Equal(t, int32(3), *calls)
}

func TestFetchServerErrorThenSuccess(t *testing.T) {
	var n int32
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(dailyBody))
	})

	res := client.Fetch(context.Background(), dailyRequest())

	assert.True(t, res.IsOK())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), *calls)
}

func TestFetchInvalidSymbol(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call."}`))
	})

	res := client.Fetch(context.Background(), dailyRequest())

	assert.Equal(t, provider.StatusUnavailable, res.Status)
	assert.Equal(t, int32(1), *calls)
}

func TestFetchWithoutKey(t *testing.T) {
	client := NewClient(config.ProviderConfig{BaseURL: "http://127.0.0.1:1"}, retry.DefaultPolicy(), logger.Nop())

	assert.False(t, client.Available())
	res := client.Fetch(context.Background(), dailyRequest())
	assert.Equal(t, provider.StatusUnavailable, res.Status)
}

func TestFetchQuarterlyUnsupported(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	res := client.Fetch(context.Background(), provider.Request{Symbol: "IBM", Granularity: provider.Quarterly})

	assert.Equal(t, provider.StatusUnavailable, res.Status)
	assert.Equal(t, int32(0), *calls)
}

func TestParseResponseFiltersRange(t *testing.T) {
	req := provider.Request{
		Symbol:      "IBM",
		Granularity: provider.Daily,
		From:        time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
	}

	res := parseResponse([]byte(dailyBody), req, "Time Series (Daily)")
	require.True(t, res.IsOK())
	assert.Equal(t, 1, res.Series.Len())
}

func TestOutputSize(t *testing.T) {
	to := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		req     provider.Request
		premium bool
		want    string
	}{
		{"no range", provider.Request{Granularity: provider.Daily}, true, "compact"},
		{"one month", provider.Request{Granularity: provider.Daily, From: to.AddDate(0, -1, 0), To: to}, true, "compact"},
		{"one year", provider.Request{Granularity: provider.Daily, From: to.AddDate(-1, 0, 0), To: to}, true, "full"},
		{"one year on a free key", provider.Request{Granularity: provider.Daily, From: to.AddDate(-1, 0, 0), To: to}, false, "compact"},
		{"weekly", provider.Request{Granularity: provider.Weekly, From: to.AddDate(-5, 0, 0), To: to}, true, "compact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outputSize(tt.req, tt.premium))
		})
	}
}
