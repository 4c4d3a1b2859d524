package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
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

// three sessions, the middle close is null
const chartBody = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "^VIX"},
      "timestamp": [1709735400, 1709821800, 1709908200],
      "indicators": {"quote": [{
        "close": [14.5, null, 14.74],
        "volume": [0, null, 0]
      }]}
    }],
    "error": null
  }
}`

const notFoundBody = `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`

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

	client := NewClient(config.ProviderConfig{BaseURL: server.URL, Timeout: time.Second}, policy, logger.Nop())
	return client, &calls
}

func TestFetchChart(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v8/finance/chart/"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		w.Write([]byte(chartBody))
	})

	res := client.Fetch(context.Background(), provider.Request{Symbol: "^VIX", Granularity: provider.Daily})
	require.True(t, res.IsOK(), res.Detail)

	assert.Equal(t, int32(1), *calls)
	require.Equal(t, 2, res.Series.Len(), "null closes are skipped")
	assert.Equal(t, Name, res.Series.Provider)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), res.Series.AsOf())
	assert.True(t, res.Series.Points[0].Value.Equal(decimal.NewFromFloat(14.5)))
}

func TestFetchIntervalByGranularity(t *testing.T) {
	tests := []struct {
		granularity provider.Granularity
		want        string
	}{
		{provider.Daily, "1d"},
		{provider.Weekly, "1wk"},
		{provider.Monthly, "1mo"},
		{provider.Quarterly, "3mo"},
	}

	for _, tt := range tests {
		t.Run(string(tt.granularity), func(t *testing.T) {
			var got string
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				got = r.URL.Query().Get("interval")
				w.Write([]byte(chartBody))
			})

			client.Fetch(context.Background(), provider.Request{Symbol: "SPY", Granularity: tt.granularity})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchUnknownSymbol(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(notFoundBody))
	})

	res := client.Fetch(context.Background(), provider.Request{Symbol: "ZZZZ"})

	assert.Equal(t, provider.StatusUnavailable, res.Status)
	assert.Contains(t, res.Detail, "delisted")
	assert.Equal(t, int32(1), *calls, "unavailable is never retried")
}

func TestFetchTooManyRequests(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("Too Many Requests"))
	})

	res := client.Fetch(context.Background(), provider.Request{Symbol: "SPY"})

	assert.Equal(t, provider.StatusRateLimited, res.Status)
	assert.Equal(t, int32(2), *calls)
}

func TestFetchSoftBlock(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[],"error":null}}`))
	})

	res := client.Fetch(context.Background(), provider.Request{Symbol: "SPY"})

	assert.Equal(t, provider.StatusMalformedResponse, res.Status)
	assert.Equal(t, int32(3), *calls)
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	policy := retry.DefaultPolicy()
	policy.Sleep = retry.NoSleep
	policy.MaxAttempts = 2

	client := NewClient(config.ProviderConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, policy, logger.Nop())
	res := client.Fetch(context.Background(), provider.Request{Symbol: "SPY"})

	assert.Equal(t, provider.StatusTransientError, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestParseResponseKeepsLastDuplicateDate(t *testing.T) {
	body := `{"chart":{"result":[{"meta":{},"timestamp":[1709908200,1709910000],
		"indicators":{"quote":[{"close":[14.0,15.0],"volume":[1,2]}]}}],"error":null}}`

	res := parseResponse([]byte(body), provider.Request{Symbol: "SPY"})
	require.True(t, res.IsOK())
	require.Equal(t, 1, res.Series.Len())
	assert.Equal(t, int64(2), res.Series.Points[0].Volume)
}
