package marketdata

import (
	"context"
	"sync"
)

// DefaultWorkers bounds FetchMany concurrency
const DefaultWorkers = 4

// FetchMany fetches several symbols with a bounded worker pool.
// Outcomes are returned in input order.
func (r *Router) FetchMany(ctx context.Context, symbols []string, period Period, workers int) []Outcome {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(symbols) {
		workers = len(symbols)
	}

	r.logger.WithFields(map[string]interface{}{
		"symbol_count": len(symbols),
		"period":       period.String(),
		"workers":      workers,
	}).Info("Starting batch fetch")

	type job struct {
		index  int
		symbol string
	}

	outcomes := make([]Outcome, len(symbols))
	jobCh := make(chan job, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				outcomes[j.index] = r.Fetch(ctx, j.symbol, period)
			}
		}()
	}

	for i, symbol := range symbols {
		jobCh <- job{index: i, symbol: symbol}
	}
	close(jobCh)
	wg.Wait()

	counts := map[Kind]int{}
	for _, o := range outcomes {
		counts[o.Kind]++
	}
	r.logger.WithFields(map[string]interface{}{
		"fresh":  counts[Fresh],
		"stale":  counts[Stale],
		"failed": counts[Failed],
	}).Info("Batch fetch completed")

	return outcomes
}
