// Package retry holds the single backoff policy shared by every provider
// client. Delays depend on the failure class of the previous attempt.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Class is the outcome category of one attempt
type Class int

const (
	Success Class = iota
	Transient
	Malformed
	RateLimited
	Permanent
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Malformed:
		return "malformed"
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Policy is an exponential backoff with jitter, parameterized by class
// ⭐ SSOT: 재시도/백오프 정책은 여기서만
type Policy struct {
	// MaxAttempts bounds total attempts for Transient and Malformed outcomes
	MaxAttempts int
	// BaseDelay doubles on each attempt, capped at MaxDelay
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// RateLimitDelay is the base delay after an explicit 429.
	// A rate-limited call gets exactly one retry.
	RateLimitDelay time.Duration
	// MalformedFactor scales BaseDelay for empty/unparseable bodies,
	// which usually mean soft-blocking rather than a network blip.
	MalformedFactor float64
	// Jitter is the maximum random fraction added to each delay (0.2 = +20%)
	Jitter float64

	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep
	OnRetry func(attempt int, class Class, delay time.Duration)
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		RateLimitDelay:  20 * time.Second,
		MalformedFactor: 2,
		Jitter:          0.2,
	}
}

// Limit returns how many attempts in total a class allows
func (p Policy) Limit(class Class) int {
	switch class {
	case Transient, Malformed:
		if p.MaxAttempts < 1 {
			return 1
		}
		return p.MaxAttempts
	case RateLimited:
		return 2
	default:
		return 1
	}
}

// Backoff returns the delay to wait after the given failed attempt (1-based)
func (p Policy) Backoff(class Class, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.BaseDelay
	ceiling := p.MaxDelay
	switch class {
	case RateLimited:
		base = p.RateLimitDelay
		if base > ceiling {
			ceiling = base
		}
	case Malformed:
		if p.MalformedFactor > 1 {
			base = time.Duration(float64(base) * p.MalformedFactor)
		}
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			break
		}
	}
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}

	if p.Jitter > 0 {
		delay += time.Duration(float64(delay) * p.Jitter * p.random())
	}

	return delay
}

// Do runs fn until it succeeds, fails permanently, or the class limit is hit.
// It returns the last class and the number of attempts made. Running out of
// attempts is a normal negative outcome, not an error. The attempt after a
// rate-limited one is always the last, whatever its class.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) Class) (Class, int) {
	attempt := 1
	rateLimited := false
	for {
		class := fn(ctx, attempt)
		if class == Success || class == Permanent {
			return class, attempt
		}

		if rateLimited || attempt >= p.Limit(class) {
			return class, attempt
		}
		if class == RateLimited {
			rateLimited = true
		}

		delay := p.Backoff(class, attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, class, delay)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return class, attempt
		}
		attempt++
	}
}

func (p Policy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep is a Sleep func that returns immediately unless ctx is done
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
