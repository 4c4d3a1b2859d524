// Package budget tracks per-provider daily call quotas. Reservations are
// atomic compare-and-increment operations on a (provider, UTC day) counter;
// the day key changes at UTC midnight, which resets the count implicitly.
package budget

import (
	"context"
	"sort"
	"time"

	"github.com/wonny/marketdata/pkg/clock"
	"github.com/wonny/marketdata/pkg/logger"
)

// DayLayout formats the UTC day component of a counter key
const DayLayout = "2006-01-02"

// State is the outcome of a reservation
type State int

const (
	// Exhausted means no call may be made today. Not an error.
	Exhausted State = iota
	// Reserved means one unit was taken and must be released if unused
	Reserved
	// Unmetered means the provider has no quota; nothing was taken
	Unmetered
)

func (s State) String() string {
	switch s {
	case Reserved:
		return "reserved"
	case Unmetered:
		return "unmetered"
	default:
		return "exhausted"
	}
}

// Ticket is a reservation handle
type Ticket struct {
	Provider string
	Day      string
	State    State
}

// OK reports whether the caller may proceed with a network call
func (t Ticket) OK() bool {
	return t.State == Reserved || t.State == Unmetered
}

// Status is the quota snapshot of one provider
type Status struct {
	Provider  string    `json:"provider"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Unmetered bool      `json:"unmetered"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Store persists counters. Reserve must be an atomic increment-if-under-limit.
// ⭐ SSOT: 호출 예산 카운터 저장소 인터페이스
type Store interface {
	// Reserve increments (provider, day) if it is below limit
	Reserve(ctx context.Context, provider, day string, limit int) (bool, error)
	// Release decrements (provider, day), never below zero
	Release(ctx context.Context, provider, day string) error
	// Used returns the current count for (provider, day)
	Used(ctx context.Context, provider, day string) (int, error)
}

// Tracker applies per-provider limits on top of a Store
type Tracker struct {
	store  Store
	limits map[string]int
	clock  clock.Clock
	logger *logger.Logger
}

// NewTracker creates a tracker. A limit <= 0 means unmetered.
func NewTracker(store Store, limits map[string]int, clk clock.Clock, log *logger.Logger) *Tracker {
	copied := make(map[string]int, len(limits))
	for name, limit := range limits {
		copied[name] = limit
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{
		store:  store,
		limits: copied,
		clock:  clk,
		logger: log.Module("budget"),
	}
}

// Limit returns the daily limit of provider (0 when unmetered)
func (t *Tracker) Limit(provider string) int {
	if limit := t.limits[provider]; limit > 0 {
		return limit
	}
	return 0
}

// Reserve takes one unit of today's budget.
// A store failure is logged and reported as Exhausted so the caller skips the provider.
func (t *Tracker) Reserve(ctx context.Context, provider string) Ticket {
	limit := t.Limit(provider)
	day := DayKey(t.clock.Now())
	ticket := Ticket{Provider: provider, Day: day, State: Exhausted}

	if limit == 0 {
		ticket.State = Unmetered
		return ticket
	}

	ok, err := t.store.Reserve(ctx, provider, day, limit)
	if err != nil {
		t.logger.WithError(err).WithField("provider", provider).Error("Budget store unavailable, skipping provider")
		return ticket
	}

	if !ok {
		t.logger.WithFields(map[string]interface{}{
			"provider": provider,
			"day":      day,
			"limit":    limit,
		}).Info("Budget exhausted")
		return ticket
	}

	ticket.State = Reserved
	t.logger.WithFields(map[string]interface{}{
		"provider": provider,
		"day":      day,
	}).Debug("Budget reserved")
	return ticket
}

// Release returns a reserved unit. Other ticket states are a no-op.
// The unit goes back to the ticket's day even if the clock rolled over.
func (t *Tracker) Release(ctx context.Context, ticket Ticket) {
	if ticket.State != Reserved {
		return
	}

	if err := t.store.Release(ctx, ticket.Provider, ticket.Day); err != nil {
		t.logger.WithError(err).WithField("provider", ticket.Provider).Warn("Failed to release budget")
		return
	}

	t.logger.WithFields(map[string]interface{}{
		"provider": ticket.Provider,
		"day":      ticket.Day,
	}).Debug("Budget released")
}

// Status returns today's quota snapshot for provider
func (t *Tracker) Status(ctx context.Context, provider string) (Status, error) {
	now := t.clock.Now()
	limit := t.Limit(provider)

	status := Status{
		Provider:  provider,
		Limit:     limit,
		Unmetered: limit == 0,
		ResetsAt:  ResetsAt(now),
	}

	used, err := t.store.Used(ctx, provider, DayKey(now))
	if err != nil {
		return status, err
	}
	status.Used = used

	if limit > 0 {
		status.Remaining = limit - used
		if status.Remaining < 0 {
			status.Remaining = 0
		}
	}
	return status, nil
}

// StatusAll returns a snapshot for every configured provider, sorted by name
func (t *Tracker) StatusAll(ctx context.Context) ([]Status, error) {
	names := t.Providers()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		status, err := t.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

// Providers returns the configured provider names, sorted
func (t *Tracker) Providers() []string {
	names := make([]string, 0, len(t.limits))
	for name := range t.limits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether provider has a configured limit entry
func (t *Tracker) Known(provider string) bool {
	_, ok := t.limits[provider]
	return ok
}

// DayKey returns the UTC date of t
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// ResetsAt returns the next UTC midnight after t
func ResetsAt(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
