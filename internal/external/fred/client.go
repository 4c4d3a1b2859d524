package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
const Name = "fred"

// missingValue marks an observation with no data
const missingValue = "."

// Client handles communication with the FRED API
// ⭐ SSOT: FRED API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	runner     *provider.Runner
	logger     *logger.Logger
	apiKey     string
	baseURL    string
}

// NewClient creates a new FRED client
func NewClient(cfg config.ProviderConfig, policy retry.Policy, log *logger.Logger) *Client {
	log = log.Module("fred")
	return &Client{
		httpClient: httputil.New(cfg.Timeout, log).WithMinInterval(cfg.MinInterval),
		runner:     provider.NewRunner(Name, policy, cfg.Timeout, log),
		logger:     log,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
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

// Fetch fetches series observations with retries
func (c *Client) Fetch(ctx context.Context, req provider.Request) provider.Result {
	if !c.Available() {
		return provider.Unavailable("missing API key")
	}

	frequency, err := frequencyFor(req.Granularity)
	if err != nil {
		return provider.Unavailable(err.Error())
	}

	return c.runner.Run(ctx, req.Symbol, func(ctx context.Context) provider.Result {
		return c.attempt(ctx, req, frequency)
	})
}

func (c *Client) attempt(ctx context.Context, req provider.Request, frequency string) provider.Result {
	resp, err := c.httpClient.Get(ctx, c.buildURL(req, frequency))
	if err != nil {
		return provider.FromTransportError(err)
	}

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return provider.FromTransportError(err)
	}

	// FRED answers unknown series ids with 400 and an error_message
	if resp.StatusCode == http.StatusBadRequest {
		return provider.Unavailable(errorMessage(body, resp.StatusCode))
	}
	if status := provider.ClassifyHTTP(resp.StatusCode); status != provider.StatusOK {
		return provider.Result{Status: status, Detail: errorMessage(body, resp.StatusCode)}
	}

	return parseResponse(body, req)
}

func (c *Client) buildURL(req provider.Request, frequency string) string {
	params := url.Values{}
	params.Set("series_id", req.Symbol)
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
	if frequency != "" {
		params.Set("frequency", frequency)
	}
	if !req.From.IsZero() {
		params.Set("observation_start", req.From.Format(provider.DateLayout))
	}
	if !req.To.IsZero() {
		params.Set("observation_end", req.To.Format(provider.DateLayout))
	}
	return fmt.Sprintf("%s/fred/series/observations?%s", c.baseURL, params.Encode())
}

// frequencyFor maps a granularity to a FRED aggregation frequency.
// Daily leaves frequency unset so native daily series come back untouched.
func frequencyFor(g provider.Granularity) (string, error) {
	switch g {
	case provider.Daily, "":
		return "", nil
	case provider.Weekly:
		return "w", nil
	case provider.Monthly:
		return "m", nil
	case provider.Quarterly:
		return "q", nil
	default:
		return "", fmt.Errorf("granularity %s not supported", g)
	}
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// parseResponse turns an observations body into a result
func parseResponse(body []byte, req provider.Request) provider.Result {
	if len(strings.TrimSpace(string(body))) == 0 {
		return provider.MalformedResponse("empty body")
	}

	var payload observationsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return provider.MalformedResponse(fmt.Sprintf("decode body: %v", err))
	}

	granularity := req.Granularity
	if granularity == "" {
		granularity = provider.Daily
	}

	series := &provider.Series{
		Symbol:      req.Symbol,
		Provider:    Name,
		Granularity: granularity,
		Points:      make([]provider.Point, 0, len(payload.Observations)),
	}

	for _, obs := range payload.Observations {
		if obs.Value == missingValue {
			continue
		}
		date, err := time.Parse(provider.DateLayout, obs.Date)
		if err != nil {
			continue
		}
		value, err := decimal.NewFromString(obs.Value)
		if err != nil {
			continue
		}
		series.Points = append(series.Points, provider.Point{Date: date, Value: value})
	}

	sort.Slice(series.Points, func(i, j int) bool {
		return series.Points[i].Date.Before(series.Points[j].Date)
	})

	if len(series.Points) == 0 {
		return provider.MalformedResponse("no observations")
	}

	return provider.OK(series)
}

func errorMessage(body []byte, statusCode int) string {
	var payload struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorMessage != "" {
		return payload.ErrorMessage
	}
	return fmt.Sprintf("unexpected status code: %d", statusCode)
}
