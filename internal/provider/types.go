package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Granularity is the sampling interval of a series
type Granularity string

const (
	Daily     Granularity = "daily"
	Weekly    Granularity = "weekly"
	Monthly   Granularity = "monthly"
	Quarterly Granularity = "quarterly"
)

// ParseGranularity parses a granularity name (empty means daily)
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return Daily, nil
	case Daily, Weekly, Monthly, Quarterly:
		return g, nil
	default:
		return "", fmt.Errorf("unknown granularity: %q", s)
	}
}

// DateLayout is the canonical date format for as_of dates and points
const DateLayout = "2006-01-02"

// Request is one provider fetch
type Request struct {
	Symbol      string
	From        time.Time
	To          time.Time
	Granularity Granularity
}

// Point is one observation of a series
type Point struct {
	Date   time.Time       `json:"date"`
	Value  decimal.Decimal `json:"value"`
	Volume int64           `json:"volume,omitempty"`
}

// Series is a time-ordered list of points
type Series struct {
	Symbol      string      `json:"symbol"`
	Provider    string      `json:"provider"`
	Granularity Granularity `json:"granularity"`
	Points      []Point     `json:"points"`
}

// AsOf returns the date of the latest point (zero if empty)
func (s *Series) AsOf() time.Time {
	if s == nil || len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

// Len returns the number of points
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}

// Clone returns a deep copy
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	out := *s
	out.Points = make([]Point, len(s.Points))
	copy(out.Points, s.Points)
	return &out
}

// Window returns a copy restricted to points within [from, to].
// A zero bound is open.
func (s *Series) Window(from, to time.Time) *Series {
	if s == nil {
		return nil
	}
	out := *s
	out.Points = make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if !from.IsZero() && p.Date.Before(from) {
			continue
		}
		if !to.IsZero() && p.Date.After(to) {
			continue
		}
		out.Points = append(out.Points, p)
	}
	return &out
}

// Status is the tagged outcome of a provider fetch
type Status int

const (
	StatusOK Status = iota
	StatusRateLimited
	StatusTransientError
	StatusMalformedResponse
	// StatusUnavailable covers missing credentials and explicit refusals
	// (unknown symbol, auth failure). It is never retried.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	case StatusTransientError:
		return "transient_error"
	case StatusMalformedResponse:
		return "malformed_response"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is what a provider client returns for one fetch
type Result struct {
	Status   Status
	Series   *Series
	Detail   string
	Attempts int
}

// OK wraps a successful series
func OK(series *Series) Result {
	return Result{Status: StatusOK, Series: series}
}

// RateLimited reports provider-level throttling
func RateLimited(detail string) Result {
	return Result{Status: StatusRateLimited, Detail: detail}
}

// TransientError reports a network failure or timeout
func TransientError(detail string) Result {
	return Result{Status: StatusTransientError, Detail: detail}
}

// MalformedResponse reports an empty or unparseable body
func MalformedResponse(detail string) Result {
	return Result{Status: StatusMalformedResponse, Detail: detail}
}

// Unavailable reports a permanent refusal
func Unavailable(detail string) Result {
	return Result{Status: StatusUnavailable, Detail: detail}
}

// IsOK reports a usable series
func (r Result) IsOK() bool {
	return r.Status == StatusOK && r.Series != nil
}
