package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/marketdata/internal/marketdata"
	"github.com/wonny/marketdata/pkg/logger"
)

// BatchFetcher fetches several symbols through the router
type BatchFetcher interface {
	FetchMany(ctx context.Context, symbols []string, period marketdata.Period, workers int) []marketdata.Outcome
}

// WarmCacheJob refreshes a watchlist so that interactive reads hit a fresh cache
// ⭐ SSOT: 캐시 워밍 스케줄은 이 Job에서만
type WarmCacheJob struct {
	fetcher  BatchFetcher
	symbols  []string
	period   marketdata.Period
	schedule string
	workers  int
	logger   *logger.Logger
}

// NewWarmCacheJob creates a new warm-up job
func NewWarmCacheJob(fetcher BatchFetcher, symbols []string, period marketdata.Period, schedule string, log *logger.Logger) *WarmCacheJob {
	return &WarmCacheJob{
		fetcher:  fetcher,
		symbols:  symbols,
		period:   period,
		schedule: schedule,
		workers:  marketdata.DefaultWorkers,
		logger:   log,
	}
}

// Name returns the job name
func (j *WarmCacheJob) Name() string {
	return "warm_cache"
}

// Schedule returns the cron schedule
func (j *WarmCacheJob) Schedule() string {
	return j.schedule
}

// Run fetches every watchlist symbol. It fails only when no symbol produced
// fresh data, so a single bad ticker does not trigger a retry of the whole batch.
func (j *WarmCacheJob) Run(ctx context.Context) error {
	if len(j.symbols) == 0 {
		j.logger.Debug("Warm-up watchlist is empty")
		return nil
	}

	j.logger.WithField("symbols", len(j.symbols)).Info("Starting scheduled cache warm-up")

	outcomes := j.fetcher.FetchMany(ctx, j.symbols, j.period, j.workers)

	var fresh, stale, failed int
	for _, out := range outcomes {
		switch out.Kind {
		case marketdata.Fresh:
			fresh++
		case marketdata.Stale:
			stale++
			j.logger.WithFields(map[string]interface{}{
				"symbol": out.Symbol,
				"reason": out.Reason,
			}).Warn("Warm-up served stale data")
		default:
			failed++
			j.logger.WithField("symbol", out.Symbol).Warn("Warm-up found no data")
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"fresh":  fresh,
		"stale":  stale,
		"failed": failed,
	}).Info("Cache warm-up completed")

	if fresh == 0 {
		return fmt.Errorf("warm-up refreshed none of %d symbols (%d stale, %d failed)", len(j.symbols), stale, failed)
	}
	return nil
}
