package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/marketdata/internal/budget"
	"github.com/wonny/marketdata/pkg/clock"
	"github.com/wonny/marketdata/pkg/logger"
)

// CounterPruner deletes budget counters older than a day key
type CounterPruner interface {
	Prune(ctx context.Context, before string) (int64, error)
}

// BudgetPruneJob removes old daily counters from durable budget storage
type BudgetPruneJob struct {
	pruner    CounterPruner
	retention int // days
	clock     clock.Clock
	logger    *logger.Logger
}

// NewBudgetPruneJob creates a new prune job keeping retention days of counters
func NewBudgetPruneJob(pruner CounterPruner, retention int, clk clock.Clock, log *logger.Logger) *BudgetPruneJob {
	if retention < 1 {
		retention = 1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &BudgetPruneJob{
		pruner:    pruner,
		retention: retention,
		clock:     clk,
		logger:    log,
	}
}

// Name returns the job name
func (j *BudgetPruneJob) Name() string {
	return "budget_prune"
}

// Schedule returns the cron schedule (daily at 00:10 UTC)
func (j *BudgetPruneJob) Schedule() string {
	return "0 10 0 * * *"
}

// Cutoff returns the oldest day key that is kept
func (j *BudgetPruneJob) Cutoff() string {
	return budget.DayKey(j.clock.Now().AddDate(0, 0, -j.retention))
}

// Run executes the prune
func (j *BudgetPruneJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.Cutoff()

	removed, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune budget counters: %w", err)
	}

	if removed > 0 {
		j.logger.WithFields(map[string]interface{}{
			"removed": removed,
			"before":  cutoff,
		}).WithDuration("duration", time.Since(start)).Info("Budget counters pruned")
	}
	return nil
}
