package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/marketdata/internal/cache"
	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/pkg/logger"
)

// FreshnessChecker decides whether an entry would be served without a fetch
type FreshnessChecker interface {
	IsFresh(entry *cache.Entry) bool
}

// FreshnessFunc adapts a function to FreshnessChecker
type FreshnessFunc func(entry *cache.Entry) bool

// IsFresh calls f(entry)
func (f FreshnessFunc) IsFresh(entry *cache.Entry) bool {
	return f(entry)
}

// CacheHandler exposes raw cache entries for inspection
type CacheHandler struct {
	store     cache.Store
	freshness FreshnessChecker
	logger    *logger.Logger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(store cache.Store, freshness FreshnessChecker, log *logger.Logger) *CacheHandler {
	return &CacheHandler{
		store:     store,
		freshness: freshness,
		logger:    log,
	}
}

// CacheEntryResponse describes one entry without its points
type CacheEntryResponse struct {
	Provider    string `json:"provider"`
	Symbol      string `json:"symbol"`
	Granularity string `json:"granularity"`
	AsOf        string `json:"as_of_date"`
	FetchedAt   string `json:"fetched_at"`
	TTLClass    string `json:"ttl_class"`
	Fresh       bool   `json:"fresh"`
	Points      int    `json:"points"`
	FirstDate   string `json:"first_date,omitempty"`
}

// GetEntry returns metadata for one cache key
// GET /api/cache/{provider}/{symbol}?granularity=daily
func (h *CacheHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	granularity, err := provider.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := cache.Key{Provider: vars["provider"], Symbol: vars["symbol"], Granularity: granularity}
	entry, err := h.store.Get(r.Context(), key)
	if errors.Is(err, cache.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no cache entry for "+key.String())
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("key", key.String()).Error("Failed to read cache entry")
		respondError(w, http.StatusInternalServerError, "Failed to read cache entry")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    DescribeEntry(entry, h.freshness.IsFresh(entry)),
	})
}

// DescribeEntry summarizes an entry
func DescribeEntry(entry *cache.Entry, fresh bool) CacheEntryResponse {
	resp := CacheEntryResponse{
		Provider:    entry.Key.Provider,
		Symbol:      entry.Key.Symbol,
		Granularity: string(entry.Key.Granularity),
		AsOf:        entry.AsOf.Format(provider.DateLayout),
		FetchedAt:   entry.FetchedAt.UTC().Format("2006-01-02T15:04:05Z"),
		TTLClass:    string(entry.TTLClass),
		Fresh:       fresh,
		Points:      entry.Series.Len(),
	}
	if entry.Series.Len() > 0 {
		resp.FirstDate = entry.Series.Points[0].Date.Format(provider.DateLayout)
	}
	return resp
}
