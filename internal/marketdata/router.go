// Package marketdata is the acquisition router: for each requested symbol
// it decides whether a fetch is needed, which provider to call, and what to
// return when every live source fails.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/marketdata/internal/budget"
	"github.com/wonny/marketdata/internal/cache"
	"github.com/wonny/marketdata/internal/coalesce"
	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/internal/routing"
	"github.com/wonny/marketdata/pkg/clock"
	"github.com/wonny/marketdata/pkg/logger"
)

// DefaultHistory is how far back every fetch reaches, whatever the period.
// Cached series are period-independent; the period only windows the result.
const DefaultHistory = "5y"

// Router orchestrates cache, budget and providers
// ⭐ SSOT: 시계열 데이터 요청의 유일한 진입점
type Router struct {
	routes  *routing.Table
	clients map[string]provider.Client
	cache   cache.Store
	budget  *budget.Tracker
	flights coalesce.Group[flight]
	clock   clock.Clock
	history Period
	logger  *logger.Logger
}

// Option customizes a Router
type Option func(*Router)

// WithHistory sets the minimum lookback of every provider fetch
func WithHistory(p Period) Option {
	return func(r *Router) {
		r.history = p
	}
}

// WithClock replaces the wall clock
func WithClock(clk clock.Clock) Option {
	return func(r *Router) {
		r.clock = clk
	}
}

// NewRouter wires a router. Every provider the table names must have a client.
func NewRouter(routes *routing.Table, clients []provider.Client, store cache.Store, tracker *budget.Tracker, log *logger.Logger, opts ...Option) (*Router, error) {
	r := &Router{
		routes:  routes,
		clients: make(map[string]provider.Client, len(clients)),
		cache:   store,
		budget:  tracker,
		clock:   clock.Real{},
		history: MustParsePeriod(DefaultHistory),
		logger:  log.Module("router"),
	}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	for _, opt := range opts {
		opt(r)
	}

	var missing []string
	for _, name := range routes.Providers() {
		if _, ok := r.clients[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("routing table names unknown providers: %s", strings.Join(missing, ", "))
	}

	return r, nil
}

// Route exposes the resolved routing for symbol
func (r *Router) Route(symbol string) routing.Route {
	return r.routes.Resolve(symbol)
}

// InFlight returns how many provider fetches are running
func (r *Router) InFlight() int {
	return r.flights.InFlight()
}

// FetchSeries returns the series for symbol over period.
// Provider failures never surface as errors: the result is Fresh, Stale,
// or Failed with ErrNoDataAvailable (or ErrInvalidPeriod for bad input).
func (r *Router) FetchSeries(ctx context.Context, symbol, period string) Outcome {
	p, err := ParsePeriod(period)
	if err != nil {
		return Outcome{Kind: Failed, Symbol: symbol, Err: err}
	}
	return r.Fetch(ctx, symbol, p)
}

// Fetch is FetchSeries with a parsed period
func (r *Router) Fetch(ctx context.Context, symbol string, period Period) Outcome {
	route := r.routes.Resolve(symbol)
	if route.Requested == "" {
		return Outcome{Kind: Failed, Err: ErrInvalidSymbol}
	}
	now := r.clock.Now()
	log := r.logger.WithFields(map[string]interface{}{
		"symbol": route.Requested,
		"period": period.String(),
	})
	if route.Proxied() {
		log = log.WithField("lookup", route.Lookup)
	}

	// CHECK_CACHE
	if entry := r.freshEntry(ctx, route, now); entry != nil {
		log.WithField("provider", entry.Key.Provider).Debug("Cache hit")
		return r.outcome(Fresh, route, entry, period, now)
	}

	if len(route.Providers) == 0 {
		log.Warn("No provider supports symbol")
		return r.fallback(ctx, route, period, now, ReasonNoProvider, nil)
	}

	// TRY_PRIMARY, TRY_SECONDARY, ...
	req := provider.Request{
		Symbol:      route.Lookup,
		From:        period.Longer(r.history, now).Start(now),
		To:          lastBar(route.Granularity, now),
		Granularity: route.Granularity,
	}

	var attempts []Attempt
	onlyBudget := true
	for _, name := range route.Providers {
		client := r.clients[name]
		if !client.Available() {
			attempts = append(attempts, Attempt{Provider: name, Kind: Unavailable, Detail: "provider unavailable"})
			onlyBudget = false
			continue
		}

		key := cache.Key{Provider: name, Symbol: route.Requested, Granularity: route.Granularity}
		res, shared, err := r.flights.Execute(ctx, key.String(), func(fctx context.Context) (flight, error) {
			return r.fetchThrough(fctx, client, key, route, req), nil
		})
		if err != nil {
			log.WithError(err).Warn("Request cancelled while waiting for provider")
			return r.fallback(ctx, route, period, now, ReasonCancelled, attempts)
		}
		if shared {
			log.WithField("provider", name).Debug("Joined in-flight fetch")
		}

		if res.entry != nil {
			return r.outcome(Fresh, route, res.entry, period, r.clock.Now(), attempts...)
		}

		attempts = append(attempts, res.attempt)
		if res.attempt.Kind != BudgetExhausted {
			onlyBudget = false
		}
	}

	// USE_STALE_CACHE
	reason := ReasonAllProvidersFailed
	if onlyBudget {
		reason = ReasonBudgetExhausted
	}
	return r.fallback(ctx, route, period, now, reason, attempts)
}

// flight is the shared result of one coalesced provider fetch
type flight struct {
	entry   *cache.Entry
	attempt Attempt
}

// fetchThrough runs inside the coalesced flight: re-check the cache,
// reserve budget, call the provider, write through.
func (r *Router) fetchThrough(ctx context.Context, client provider.Client, key cache.Key, route routing.Route, req provider.Request) flight {
	name := client.Name()
	log := r.logger.WithFields(map[string]interface{}{
		"provider": name,
		"symbol":   route.Requested,
	})

	// A flight that just landed may already have filled the cache
	if entry, err := r.cache.Get(ctx, key); err == nil && cache.IsFreshOn(entry, route.TTLClass, route.Calendar, r.clock.Now()) {
		return flight{entry: entry}
	}

	ticket := r.budget.Reserve(ctx, name)
	if !ticket.OK() {
		return flight{attempt: Attempt{Provider: name, Kind: BudgetExhausted}}
	}

	res := client.Fetch(ctx, req)
	if !res.IsOK() {
		r.budget.Release(ctx, ticket)
		log.WithFields(map[string]interface{}{
			"status":   res.Status.String(),
			"attempts": res.Attempts,
			"detail":   res.Detail,
		}).Warn("Provider failed, trying next")
		return flight{attempt: Attempt{Provider: name, Kind: errorKindOf(res.Status), Detail: res.Detail}}
	}

	// Today's daily bar is still trading and must not be cached as a close
	series := res.Series.Window(time.Time{}, req.To)
	if series.Len() == 0 {
		// The call happened, so the unit stays spent
		log.Warn("Provider returned no completed sessions")
		return flight{attempt: Attempt{Provider: name, Kind: NoDataAvailable, Detail: "no completed sessions"}}
	}
	series.Symbol = route.Requested
	series.Provider = name
	series.Granularity = route.Granularity

	entry := &cache.Entry{
		Key:       key,
		Series:    series,
		AsOf:      series.AsOf(),
		FetchedAt: r.clock.Now(),
		TTLClass:  route.TTLClass,
	}

	err := r.cache.Put(ctx, entry)
	switch {
	case errors.Is(err, cache.ErrCoverageRegression):
		// The call happened, so the unit stays spent
		log.WithField("as_of", series.AsOf().Format(provider.DateLayout)).Warn("Provider returned older data than cached")
		return flight{attempt: Attempt{Provider: name, Kind: CoverageRegression, Detail: "older than cached entry"}}
	case err != nil:
		log.WithError(err).Error("Failed to write cache entry")
	}

	log.WithFields(map[string]interface{}{
		"points": series.Len(),
		"as_of":  series.AsOf().Format(provider.DateLayout),
	}).Info("Fetched series")
	return flight{entry: entry}
}

// freshEntry returns the first fresh entry along the provider chain
func (r *Router) freshEntry(ctx context.Context, route routing.Route, now time.Time) *cache.Entry {
	for _, name := range route.Providers {
		key := cache.Key{Provider: name, Symbol: route.Requested, Granularity: route.Granularity}
		entry, err := r.cache.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, cache.ErrNotFound) {
				r.logger.WithError(err).WithField("key", key.String()).Warn("Cache read failed")
			}
			continue
		}
		if cache.IsFreshOn(entry, route.TTLClass, route.Calendar, now) {
			return entry
		}
	}
	return nil
}

// IsFresh reports whether a cached entry would be served without a fetch
// under the routing rule of its symbol
func (r *Router) IsFresh(entry *cache.Entry) bool {
	if entry == nil {
		return false
	}
	route := r.routes.Resolve(entry.Key.Symbol)
	return cache.IsFreshOn(entry, route.TTLClass, route.Calendar, r.clock.Now())
}

// fallback returns the newest cached entry from any provider, or Failed
func (r *Router) fallback(ctx context.Context, route routing.Route, period Period, now time.Time, reason string, attempts []Attempt) Outcome {
	log := r.logger.WithFields(map[string]interface{}{
		"symbol": route.Requested,
		"reason": reason,
	})

	// The caller may have given up; the cache read still has to happen
	entries, err := r.cache.List(context.WithoutCancel(ctx), route.Requested, route.Granularity)
	if err != nil {
		log.WithError(err).Warn("Cache read failed during fallback")
	}

	var best *cache.Entry
	for _, e := range entries {
		if best == nil || e.AsOf.After(best.AsOf) || (e.AsOf.Equal(best.AsOf) && e.FetchedAt.After(best.FetchedAt)) {
			best = e
		}
	}

	if best == nil {
		log.Error("No data available")
		return Outcome{
			Kind:     Failed,
			Symbol:   route.Requested,
			Reason:   reason,
			Err:      fmt.Errorf("%w: %s (%s)", ErrNoDataAvailable, route.Requested, reason),
			Attempts: attempts,
		}
	}

	log.WithFields(map[string]interface{}{
		"provider": best.Key.Provider,
		"as_of":    best.AsOf.Format(provider.DateLayout),
	}).Warn("Serving stale cache entry")

	out := r.outcome(Stale, route, best, period, now, attempts...)
	out.Reason = reason
	return out
}

func (r *Router) outcome(kind Kind, route routing.Route, entry *cache.Entry, period Period, now time.Time, attempts ...Attempt) Outcome {
	entry = entry.Clone()
	entry.Stale = kind == Stale

	return Outcome{
		Kind:     kind,
		Symbol:   route.Requested,
		Provider: entry.Key.Provider,
		Entry:    entry,
		Series:   entry.Series.Window(period.Start(now), time.Time{}),
		Attempts: attempts,
	}
}

// lastBar is the newest bar date a fetch may keep.
// Daily series stop at the last completed trading day.
func lastBar(g provider.Granularity, now time.Time) time.Time {
	if g == provider.Daily || g == "" {
		return cache.LastCompletedTradingDay(now)
	}
	return today(now)
}
