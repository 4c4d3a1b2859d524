// Package coalesce guarantees at most one in-flight call per key.
// Later callers for the same key wait for the first caller's result.
package coalesce

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates concurrent calls by key
// ⭐ SSOT: 동일 키 중복 호출 방지는 여기서만
type Group[T any] struct {
	sf       singleflight.Group
	inFlight atomic.Int64
}

// Execute runs fn once per key at a time and hands every concurrent caller
// its result. shared is true when the result went to more than one caller.
//
// fn runs on a context detached from the caller's cancellation, so a caller
// that gives up does not abort the fetch the others are waiting on. The
// caller itself stops waiting when ctx is done.
func (g *Group[T]) Execute(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := g.sf.DoChan(key, func() (interface{}, error) {
		g.inFlight.Add(1)
		defer g.inFlight.Add(-1)
		return fn(detached)
	})

	select {
	case res := <-ch:
		var zero T
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, _ := res.Val.(T)
		return v, res.Shared, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// InFlight returns how many distinct keys are being fetched right now
func (g *Group[T]) InFlight() int {
	return int(g.inFlight.Load())
}
