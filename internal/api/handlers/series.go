package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/marketdata/internal/marketdata"
	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/pkg/logger"
)

// SeriesFetcher is the router entry point the handler needs
type SeriesFetcher interface {
	FetchSeries(ctx context.Context, symbol, period string) marketdata.Outcome
}

// SeriesHandler serves time series through the acquisition router
// ⭐ SSOT: 시계열 API 핸들러는 이 구조체에서만
type SeriesHandler struct {
	router SeriesFetcher
	logger *logger.Logger
}

// NewSeriesHandler creates a new series handler
func NewSeriesHandler(router SeriesFetcher, log *logger.Logger) *SeriesHandler {
	return &SeriesHandler{
		router: router,
		logger: log,
	}
}

// PointResponse is one observation
type PointResponse struct {
	Date   string `json:"date"`
	Value  string `json:"value"`
	Volume int64  `json:"volume,omitempty"`
}

// SeriesResponse is the series payload. Stale is set whenever the data
// could not be refreshed and callers should flag it.
type SeriesResponse struct {
	Success     bool                 `json:"success"`
	Symbol      string               `json:"symbol"`
	Kind        string               `json:"kind"`
	Stale       bool                 `json:"stale"`
	Reason      string               `json:"reason,omitempty"`
	Provider    string               `json:"provider,omitempty"`
	Granularity string               `json:"granularity,omitempty"`
	AsOf        string               `json:"as_of_date,omitempty"`
	FetchedAt   *time.Time           `json:"fetched_at,omitempty"`
	TTLClass    string               `json:"ttl_class,omitempty"`
	Points      []PointResponse      `json:"points"`
	Attempts    []marketdata.Attempt `json:"attempts,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// GetSeries returns the series for a symbol
// GET /api/series/{symbol}?period=1y
func (h *SeriesHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	period := r.URL.Query().Get("period")

	out := h.router.FetchSeries(r.Context(), symbol, period)

	resp := SeriesResponse{
		Success:  out.Kind != marketdata.Failed,
		Symbol:   out.Symbol,
		Kind:     out.Kind.String(),
		Stale:    out.Kind == marketdata.Stale,
		Reason:   out.Reason,
		Provider: out.Provider,
		Points:   []PointResponse{},
		Attempts: out.Attempts,
	}
	if resp.Symbol == "" {
		resp.Symbol = symbol
	}

	if out.Kind == marketdata.Failed {
		status := http.StatusNotFound
		if errors.Is(out.Err, marketdata.ErrInvalidPeriod) || errors.Is(out.Err, marketdata.ErrInvalidSymbol) {
			status = http.StatusBadRequest
		}
		if out.Err != nil {
			resp.Error = out.Err.Error()
		}
		respondJSON(w, status, resp)
		return
	}

	if entry := out.Entry; entry != nil {
		fetchedAt := entry.FetchedAt
		resp.Granularity = string(entry.Key.Granularity)
		resp.AsOf = entry.AsOf.Format(provider.DateLayout)
		resp.FetchedAt = &fetchedAt
		resp.TTLClass = string(entry.TTLClass)
	}
	if out.Series != nil {
		resp.Points = make([]PointResponse, len(out.Series.Points))
		for i, p := range out.Series.Points {
			resp.Points[i] = PointResponse{
				Date:   p.Date.Format(provider.DateLayout),
				Value:  p.Value.String(),
				Volume: p.Volume,
			}
		}
	}

	if resp.Stale {
		w.Header().Set("Warning", `110 - "Response is Stale"`)
	}
	respondJSON(w, http.StatusOK, resp)
}
