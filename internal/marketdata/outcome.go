package marketdata

import (
	"errors"

	"github.com/wonny/marketdata/internal/cache"
	"github.com/wonny/marketdata/internal/provider"
)

var (
	// ErrNoDataAvailable means no provider produced data and nothing is cached.
	// It is the only failure that crosses the router boundary.
	ErrNoDataAvailable = errors.New("no data available")
	// ErrInvalidPeriod means the requested period could not be parsed
	ErrInvalidPeriod = errors.New("invalid period")
	// ErrInvalidSymbol means the requested symbol is empty
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// Stale reasons
const (
	ReasonAllProvidersFailed = "all providers failed"
	ReasonBudgetExhausted    = "budget exhausted"
	ReasonNoProvider         = "no provider supports symbol"
	ReasonCancelled          = "request cancelled"
)

// Kind tags an outcome
type Kind int

const (
	Fresh Kind = iota
	Stale
	Failed
)

func (k Kind) String() string {
	switch k {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "failed"
	}
}

// MarshalText renders the kind as its name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrorKind classifies why one provider did not produce data
type ErrorKind int

const (
	RateLimited ErrorKind = iota
	BudgetExhausted
	TransientError
	MalformedResponse
	Unavailable
	CoverageRegression
	NoDataAvailable
)

func (k ErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case BudgetExhausted:
		return "budget_exhausted"
	case TransientError:
		return "transient_error"
	case MalformedResponse:
		return "malformed_response"
	case Unavailable:
		return "unavailable"
	case CoverageRegression:
		return "coverage_regression"
	default:
		return "no_data_available"
	}
}

// MarshalText renders the kind as its name
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func errorKindOf(s provider.Status) ErrorKind {
	switch s {
	case provider.StatusRateLimited:
		return RateLimited
	case provider.StatusTransientError:
		return TransientError
	case provider.StatusMalformedResponse:
		return MalformedResponse
	default:
		return Unavailable
	}
}

// Attempt records one provider that was tried and did not serve the request
type Attempt struct {
	Provider string    `json:"provider"`
	Kind     ErrorKind `json:"kind"`
	Detail   string    `json:"detail,omitempty"`
}

// Outcome is the router's answer for one symbol.
// Callers must handle Stale and Failed explicitly.
type Outcome struct {
	Kind   Kind   `json:"kind"`
	Symbol string `json:"symbol"`
	// Provider is the source of Entry
	Provider string `json:"provider,omitempty"`
	// Entry is the full cached entry (nil when Failed)
	Entry *cache.Entry `json:"-"`
	// Series is Entry's series restricted to the requested period
	Series *provider.Series `json:"series,omitempty"`
	// Reason explains a Stale outcome
	Reason string `json:"reason,omitempty"`
	// Err is set when Failed
	Err error `json:"-"`
	// Attempts lists providers that were tried without success
	Attempts []Attempt `json:"attempts,omitempty"`
}

// OK reports whether data is present (fresh or stale)
func (o Outcome) OK() bool {
	return o.Kind != Failed
}
