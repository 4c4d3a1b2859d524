package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/internal/retry"
	"github.com/wonny/marketdata/pkg/config"
	"github.com/wonny/marketdata/pkg/httputil"
	"github.com/wonny/marketdata/pkg/logger"
)

// Name is the provider id
const Name = "alphavantage"

// compactSessions is how many points outputsize=compact returns
const compactSessions = 100

// Client handles communication with the Alpha Vantage API
// ⭐ SSOT: Alpha Vantage API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	runner     *provider.Runner
	logger     *logger.Logger
	apiKey     string
	baseURL    string
	// premium keys may request outputsize=full
	premium    bool
}

// NewClient creates a new Alpha Vantage client
func NewClient(cfg config.ProviderConfig, policy retry.Policy, log *logger.Logger) *Client {
	log = log.Module("alphavantage")
	return &Client{
		httpClient: httputil.New(cfg.Timeout, log).WithMinInterval(cfg.MinInterval),
		runner:     provider.NewRunner(Name, policy, cfg.Timeout, log),
		logger:     log,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		premium:    cfg.Premium,
	}
}

// Name returns the provider id
func (c *Client) Name() string {
	return Name
}

// Available reports whether an API key is configured
func (c *Client) Available() bool {
	return c.apiKey != ""
}

// Fetch fetches a price series with retries
func (c *Client) Fetch(ctx context.Context, req provider.Request) provider.Result {
	if !c.Available() {
		return provider.Unavailable("missing API key")
	}

	function, seriesKey, err := functionFor(req.Granularity)
	if err != nil {
		return provider.Unavailable(err.Error())
	}

	return c.runner.Run(ctx, req.Symbol, func(ctx context.Context) provider.Result {
		return c.attempt(ctx, req, function, seriesKey)
	})
}

// attempt performs exactly one HTTP request
func (c *Client) attempt(ctx context.Context, req provider.Request, function, seriesKey string) provider.Result {
	resp, err := c.httpClient.Get(ctx, c.buildURL(req, function))
	if err != nil {
		return provider.FromTransportError(err)
	}

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return provider.FromTransportError(err)
	}

	if status := provider.ClassifyHTTP(resp.StatusCode); status != provider.StatusOK {
		return provider.Result{Status: status, Detail: fmt.Sprintf("unexpected status code: %d", resp.StatusCode)}
	}

	return parseResponse(body, req, seriesKey)
}

func (c *Client) buildURL(req provider.Request, function string) string {
	params := url.Values{}
	params.Set("function", function)
	params.Set("symbol", req.Symbol)
	params.Set("apikey", c.apiKey)
	params.Set("datatype", "json")
	params.Set("outputsize", outputSize(req, c.premium))
	return fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())
}

// outputSize picks "full" when the range is longer than a compact response.
// Free keys are always compact: full daily history is a paid feature.
func outputSize(req provider.Request, premium bool) string {
	if !premium || req.Granularity != provider.Daily || req.From.IsZero() {
		return "compact"
	}
	to := req.To
	if to.IsZero() {
		to = time.Now()
	}
	// ~252 sessions per 365 days
	sessions := int(to.Sub(req.From).Hours() / 24 * 252 / 365)
	if sessions > compactSessions {
		return "full"
	}
	return "compact"
}

func functionFor(g provider.Granularity) (string, string, error) {
	switch g {
	case provider.Daily, "":
		return "TIME_SERIES_DAILY", "Time Series (Daily)", nil
	case provider.Weekly:
		return "TIME_SERIES_WEEKLY", "Weekly Time Series", nil
	case provider.Monthly:
		return "TIME_SERIES_MONTHLY", "Monthly Time Series", nil
	default:
		return "", "", fmt.Errorf("granularity %s not supported", g)
	}
}

// bar is one OHLCV row; Alpha Vantage sends every number as a string
type bar struct {
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// parseResponse turns a response body into a result
func parseResponse(body []byte, req provider.Request, seriesKey string) provider.Result {
	if len(strings.TrimSpace(string(body))) == 0 {
		return provider.MalformedResponse("empty body")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return provider.MalformedResponse(fmt.Sprintf("decode body: %v", err))
	}

	// Throttling arrives as HTTP 200 with a Note or Information message.
	// An Information message about a premium endpoint will not clear on retry.
	for _, key := range []string{"Note", "Information"} {
		if msg, ok := raw[key]; ok {
			text := unquote(msg)
			if strings.Contains(strings.ToLower(text), "premium") {
				return provider.Unavailable(text)
			}
			return provider.RateLimited(text)
		}
	}
	if msg, ok := raw["Error Message"]; ok {
		return provider.Unavailable(unquote(msg))
	}

	seriesRaw, ok := raw[seriesKey]
	if !ok {
		return provider.MalformedResponse(fmt.Sprintf("missing %q", seriesKey))
	}

	var bars map[string]bar
	if err := json.Unmarshal(seriesRaw, &bars); err != nil {
		return provider.MalformedResponse(fmt.Sprintf("decode series: %v", err))
	}

	series := &provider.Series{
		Symbol:      req.Symbol,
		Provider:    Name,
		Granularity: granularityOrDaily(req.Granularity),
		Points:      make([]provider.Point, 0, len(bars)),
	}

	for dateStr, b := range bars {
		date, err := time.Parse(provider.DateLayout, dateStr)
		if err != nil {
			continue
		}
		if !req.From.IsZero() && date.Before(req.From) {
			continue
		}
		if !req.To.IsZero() && date.After(req.To) {
			continue
		}

		value, err := decimal.NewFromString(b.Close)
		if err != nil {
			continue
		}

		var volume int64
		if v, err := decimal.NewFromString(b.Volume); err == nil {
			volume = v.IntPart()
		}

		series.Points = append(series.Points, provider.Point{
			Date:   date,
			Value:  value,
			Volume: volume,
		})
	}

	sort.Slice(series.Points, func(i, j int) bool {
		return series.Points[i].Date.Before(series.Points[j].Date)
	})

	if len(series.Points) == 0 {
		return provider.MalformedResponse("no parseable points")
	}

	return provider.OK(series)
}

func granularityOrDaily(g provider.Granularity) provider.Granularity {
	if g == "" {
		return provider.Daily
	}
	return g
}

func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}
