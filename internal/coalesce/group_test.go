package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCoalescesConcurrentCallers(t *testing.T) {
	var g Group[string]
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})

	fn := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "series", nil
	}

	const callers = 25
	var wg sync.WaitGroup
	results := make([]string, callers)
	shared := make([]bool, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], shared[0], _ = g.Execute(context.Background(), "yahoo|SPY|daily", fn)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], shared[i], _ = g.Execute(context.Background(), "yahoo|SPY|daily", fn)
		}(i)
	}

	// wait until every caller has joined the flight
	require.Eventually(t, func() bool { return g.InFlight() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < callers; i++ {
		assert.Equal(t, "series", results[i])
	}
	assert.True(t, shared[0])
	assert.Equal(t, 0, g.InFlight())
}

func TestExecuteDistinctKeysRunIndependently(t *testing.T) {
	var g Group[int]
	var calls int32

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := g.Execute(context.Background(), string(rune('A'+i)), func(ctx context.Context) (int, error) {
				atomic.AddInt32(&calls, 1)
				return i, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, i, v)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), calls)
}

func TestExecutePropagatesError(t *testing.T) {
	var g Group[int]
	boom := errors.New("boom")

	_, _, err := g.Execute(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestExecuteSequentialCallsRunAgain(t *testing.T) {
	var g Group[int]
	var calls int32
	fn := func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}

	first, _, _ := g.Execute(context.Background(), "k", fn)
	second, _, _ := g.Execute(context.Background(), "k", fn)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestExecuteCallerCancelDoesNotAbortFetch(t *testing.T) {
	var g Group[string]
	release := make(chan struct{})
	fetchCtxErr := make(chan error, 1)

	fn := func(ctx context.Context) (string, error) {
		<-release
		fetchCtxErr <- ctx.Err()
		return "done", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := g.Execute(ctx, "k", fn)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return g.InFlight() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	// a late caller joins the same flight and gets its result
	lateCh := make(chan string, 1)
	go func() {
		v, _, _ := g.Execute(context.Background(), "k", fn)
		lateCh <- v
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Equal(t, "done", <-lateCh)
	assert.NoError(t, <-fetchCtxErr)
}
