// Package provider defines the capability every external data source
// implements, plus the runner that applies pacing, hard timeouts and the
// shared retry policy around a single fetch attempt.
package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/wonny/marketdata/internal/retry"
	"github.com/wonny/marketdata/pkg/logger"
)

// Client is one external data source
// ⭐ SSOT: 외부 데이터 소스 인터페이스는 여기서만 정의
type Client interface {
	// Name is the provider id used in routing, budget and cache keys
	Name() string
	// Available is false when credentials are missing
	Available() bool
	// Fetch performs one logical fetch, retries included
	Fetch(ctx context.Context, req Request) Result
}

// AttemptFunc performs exactly one network attempt
type AttemptFunc func(ctx context.Context) Result

// Runner wraps attempts with a hard timeout and the shared retry policy
type Runner struct {
	name    string
	policy  retry.Policy
	timeout time.Duration
	logger  *logger.Logger
}

// NewRunner creates a runner for the named provider
func NewRunner(name string, policy retry.Policy, timeout time.Duration, log *logger.Logger) *Runner {
	return &Runner{
		name:    name,
		policy:  policy,
		timeout: timeout,
		logger:  log.WithField("provider", name),
	}
}

// Run executes attempt under the retry policy and returns the last result
func (r *Runner) Run(ctx context.Context, symbol string, attempt AttemptFunc) Result {
	var last Result

	policy := r.policy
	policy.OnRetry = func(n int, class retry.Class, delay time.Duration) {
		r.logger.WithFields(map[string]interface{}{
			"symbol":  symbol,
			"attempt": n,
			"class":   class.String(),
			"delay":   delay,
			"detail":  last.Detail,
		}).Warn("Retrying provider fetch")
	}

	_, attempts := policy.Do(ctx, func(ctx context.Context, n int) retry.Class {
		last = r.once(ctx, attempt)
		return classOf(last.Status)
	})
	last.Attempts = attempts

	if last.Status != StatusOK {
		r.logger.WithFields(map[string]interface{}{
			"symbol":   symbol,
			"status":   last.Status.String(),
			"attempts": attempts,
			"detail":   last.Detail,
		}).Info("Provider fetch gave up")
	}

	return last
}

// once runs a single attempt with the hard timeout applied
func (r *Runner) once(ctx context.Context, attempt AttemptFunc) Result {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	res := attempt(ctx)
	if res.Status == StatusOK && res.Series == nil {
		return MalformedResponse("empty series")
	}
	if res.Status == StatusOK && len(res.Series.Points) == 0 {
		return MalformedResponse("series has no points")
	}
	return res
}

func classOf(s Status) retry.Class {
	switch s {
	case StatusOK:
		return retry.Success
	case StatusRateLimited:
		return retry.RateLimited
	case StatusTransientError:
		return retry.Transient
	case StatusMalformedResponse:
		return retry.Malformed
	default:
		return retry.Permanent
	}
}

// ClassifyHTTP maps a non-200 status code to a result status
func ClassifyHTTP(statusCode int) Status {
	switch {
	case statusCode == http.StatusOK:
		return StatusOK
	case statusCode == http.StatusTooManyRequests:
		return StatusRateLimited
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return StatusTransientError
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusNotFound:
		return StatusUnavailable
	default:
		return StatusTransientError
	}
}

// FromTransportError converts a transport error into a result.
// Timeouts and cancellations are transient.
func FromTransportError(err error) Result {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return TransientError("timeout: " + err.Error())
	case errors.As(err, &netErr) && netErr.Timeout():
		return TransientError("timeout: " + err.Error())
	default:
		return TransientError(err.Error())
	}
}
