// Package cache is the durable series cache. Entries are keyed by
// (provider, symbol, granularity); each write records a new as_of version
// and reads return the latest one, so coverage never moves backwards.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/marketdata/internal/provider"
)

var (
	// ErrNotFound means no entry exists for the key
	ErrNotFound = errors.New("cache entry not found")
	// ErrCoverageRegression means the write would move as_of backwards
	ErrCoverageRegression = errors.New("cache coverage regression")
)

// TTLClass is the freshness bucket of an entry
type TTLClass string

const (
	TTLDaily     TTLClass = "daily"
	TTLWeekly    TTLClass = "weekly"
	TTLMonthly   TTLClass = "monthly"
	TTLQuarterly TTLClass = "quarterly"
)

// TTL returns how long an entry of this class is trusted
func (c TTLClass) TTL() time.Duration {
	switch c {
	case TTLWeekly:
		return 7 * 24 * time.Hour
	case TTLMonthly:
		return 30 * 24 * time.Hour
	case TTLQuarterly:
		return 90 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ParseTTLClass parses a ttl class name (empty means daily)
func ParseTTLClass(s string) (TTLClass, error) {
	switch c := TTLClass(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return TTLDaily, nil
	case TTLDaily, TTLWeekly, TTLMonthly, TTLQuarterly:
		return c, nil
	default:
		return "", fmt.Errorf("unknown ttl class: %q", s)
	}
}

// TTLFor returns the natural ttl class of a granularity
func TTLFor(g provider.Granularity) TTLClass {
	switch g {
	case provider.Weekly:
		return TTLWeekly
	case provider.Monthly:
		return TTLMonthly
	case provider.Quarterly:
		return TTLQuarterly
	default:
		return TTLDaily
	}
}

// Key identifies a cached series
type Key struct {
	Provider    string               `json:"provider"`
	Symbol      string               `json:"symbol"`
	Granularity provider.Granularity `json:"granularity"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Provider, k.Symbol, k.Granularity)
}

// Entry is one cached series with its freshness metadata
type Entry struct {
	Key       Key              `json:"key"`
	Series    *provider.Series `json:"series"`
	AsOf      time.Time        `json:"as_of_date"`
	FetchedAt time.Time        `json:"fetched_at"`
	TTLClass  TTLClass         `json:"ttl_class"`
	// Stale is set on entries handed out as a fallback
	Stale bool `json:"stale"`
}

// Clone returns a deep copy
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Series = e.Series.Clone()
	return &out
}

// normalize fills AsOf from the series and checks the entry is storable
func (e *Entry) normalize() error {
	if e.Series == nil || e.Series.Len() == 0 {
		return fmt.Errorf("cache entry %s has no points", e.Key)
	}
	if e.Key.Provider == "" || e.Key.Symbol == "" {
		return fmt.Errorf("cache entry key is incomplete: %s", e.Key)
	}
	if e.Key.Granularity == "" {
		e.Key.Granularity = provider.Daily
	}
	if e.AsOf.IsZero() {
		e.AsOf = e.Series.AsOf()
	}
	e.AsOf = truncateDay(e.AsOf)
	if e.TTLClass == "" {
		e.TTLClass = TTLFor(e.Key.Granularity)
	}
	e.Stale = false
	return nil
}

// Store is a durable key to entry store
// ⭐ SSOT: 캐시 저장소 인터페이스는 여기서만 정의
type Store interface {
	// Get returns the latest entry for key or ErrNotFound
	Get(ctx context.Context, key Key) (*Entry, error)
	// Put atomically replaces the entry for key. A write whose as_of is
	// older than the stored one returns ErrCoverageRegression and changes nothing.
	Put(ctx context.Context, entry *Entry) error
	// List returns the latest entry of every provider holding symbol
	List(ctx context.Context, symbol string, granularity provider.Granularity) ([]*Entry, error)
}

// Calendar says whether a daily series follows the exchange session calendar
type Calendar string

const (
	// CalendarTrading requires a daily series to cover the last completed trading day
	CalendarTrading Calendar = "trading"
	// CalendarNone trusts an entry for its ttl alone. Economic series
	// published with a lag use it.
	CalendarNone Calendar = "none"
)

// ParseCalendar parses a calendar name (empty means trading)
func ParseCalendar(s string) (Calendar, error) {
	switch c := Calendar(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CalendarTrading, nil
	case CalendarTrading, CalendarNone:
		return c, nil
	default:
		return "", fmt.Errorf("unknown calendar: %q", s)
	}
}

// IsFresh reports whether an entry can be served without a fetch under
// the trading calendar. See IsFreshOn.
func IsFresh(e *Entry, ttl TTLClass, now time.Time) bool {
	return IsFreshOn(e, ttl, CalendarTrading, now)
}

// IsFreshOn reports whether an entry can be served without a fetch.
// It must be younger than the ttl, and under the trading calendar a daily
// series with a daily ttl must also cover the last completed trading day.
func IsFreshOn(e *Entry, ttl TTLClass, cal Calendar, now time.Time) bool {
	if e == nil {
		return false
	}
	if ttl == "" {
		ttl = e.TTLClass
	}
	if now.Sub(e.FetchedAt) >= ttl.TTL() {
		return false
	}
	if cal != CalendarNone && ttl == TTLDaily && e.Key.Granularity == provider.Daily {
		return !truncateDay(e.AsOf).Before(LastCompletedTradingDay(now))
	}
	return true
}

// LastCompletedTradingDay returns the most recent weekday strictly before now (UTC).
// Market holidays are not considered.
func LastCompletedTradingDay(now time.Time) time.Time {
	day := truncateDay(now.UTC()).AddDate(0, 0, -1)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
