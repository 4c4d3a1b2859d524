package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
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
const Name = "yahoo"

// Client handles communication with the Yahoo Finance chart API
// ⭐ SSOT: Yahoo Finance API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	runner     *provider.Runner
	logger     *logger.Logger
	baseURL    string
}

// NewClient creates a new Yahoo Finance client. No key is required.
func NewClient(cfg config.ProviderConfig, policy retry.Policy, log *logger.Logger) *Client {
	log = log.Module("yahoo")
	return &Client{
		httpClient: httputil.New(cfg.Timeout, log).WithMinInterval(cfg.MinInterval),
		runner:     provider.NewRunner(Name, policy, cfg.Timeout, log),
		logger:     log,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Name returns the provider id
func (c *Client) Name() string {
	return Name
}

// Available is always true
func (c *Client) Available() bool {
	return true
}

// Fetch fetches a chart series with retries
func (c *Client) Fetch(ctx context.Context, req provider.Request) provider.Result {
	interval, err := intervalFor(req.Granularity)
	if err != nil {
		return provider.Unavailable(err.Error())
	}

	return c.runner.Run(ctx, req.Symbol, func(ctx context.Context) provider.Result {
		return c.attempt(ctx, req, interval)
	})
}

func (c *Client) attempt(ctx context.Context, req provider.Request, interval string) provider.Result {
	resp, err := c.httpClient.Get(ctx, c.buildURL(req, interval))
	if err != nil {
		return provider.FromTransportError(err)
	}

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return provider.FromTransportError(err)
	}

	status := provider.ClassifyHTTP(resp.StatusCode)
	// 404 carries a chart.error body for unknown symbols
	if status != provider.StatusOK && status != provider.StatusUnavailable {
		return provider.Result{Status: status, Detail: fmt.Sprintf("unexpected status code: %d", resp.StatusCode)}
	}

	res := parseResponse(body, req)
	if status == provider.StatusUnavailable && res.Status != provider.StatusUnavailable {
		return provider.Unavailable(fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}
	return res
}

func (c *Client) buildURL(req provider.Request, interval string) string {
	from := req.From
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	to := req.To
	if to.IsZero() {
		to = time.Now()
	}

	params := url.Values{}
	params.Set("period1", strconv.FormatInt(from.Unix(), 10))
	// period2 is exclusive
	params.Set("period2", strconv.FormatInt(to.AddDate(0, 0, 1).Unix(), 10))
	params.Set("interval", interval)
	params.Set("events", "history")
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(req.Symbol), params.Encode())
}

func intervalFor(g provider.Granularity) (string, error) {
	switch g {
	case provider.Daily, "":
		return "1d", nil
	case provider.Weekly:
		return "1wk", nil
	case provider.Monthly:
		return "1mo", nil
	case provider.Quarterly:
		return "3mo", nil
	default:
		return "", fmt.Errorf("granularity %s not supported", g)
	}
}

// chartResponse is the subset of the v8 chart payload we read
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol           string `json:"symbol"`
				ExchangeTimezone string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// parseResponse turns a chart body into a result
func parseResponse(body []byte, req provider.Request) provider.Result {
	if len(strings.TrimSpace(string(body))) == 0 {
		return provider.MalformedResponse("empty body")
	}

	var payload chartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return provider.MalformedResponse(fmt.Sprintf("decode body: %v", err))
	}

	if e := payload.Chart.Error; e != nil {
		return provider.Unavailable(fmt.Sprintf("%s: %s", e.Code, e.Description))
	}
	if len(payload.Chart.Result) == 0 {
		return provider.MalformedResponse("chart has no result")
	}

	result := payload.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return provider.MalformedResponse("chart has no quote indicator")
	}
	quote := result.Indicators.Quote[0]

	loc := time.UTC
	if tz := result.Meta.ExchangeTimezone; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	series := &provider.Series{
		Symbol:      req.Symbol,
		Provider:    Name,
		Granularity: granularityOrDaily(req.Granularity),
		Points:      make([]provider.Point, 0, len(result.Timestamp)),
	}

	seen := make(map[time.Time]int, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}

		// Bars are stamped at the exchange open; keep the exchange-local date
		local := time.Unix(ts, 0).In(loc)
		date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

		if !req.From.IsZero() && date.Before(req.From) {
			continue
		}
		if !req.To.IsZero() && date.After(req.To) {
			continue
		}

		var volume int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}

		point := provider.Point{
			Date:   date,
			Value:  decimal.NewFromFloat(*quote.Close[i]),
			Volume: volume,
		}

		// The live bar can repeat the last date; the later one wins
		if idx, ok := seen[date]; ok {
			series.Points[idx] = point
			continue
		}
		seen[date] = len(series.Points)
		series.Points = append(series.Points, point)
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
