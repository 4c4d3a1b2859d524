package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/marketdata/internal/api"
	"github.com/wonny/marketdata/internal/api/handlers"
	"github.com/wonny/marketdata/internal/marketdata"
	"github.com/wonny/marketdata/internal/scheduler"
	"github.com/wonny/marketdata/internal/scheduler/jobs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "API 서버 + 스케줄러 시작",
	Long: `상태 조회 API 서버와 캐시 워밍 스케줄러를 시작합니다.

Endpoints:
  GET  /health                                  - Health check
  GET  /api/series/{symbol}?period=1y           - 시계열 조회 (fresh/stale/failed)
  GET  /api/budget                              - 공급자별 일일 예산
  GET  /api/budget/{provider}                   - 단일 공급자 예산
  GET  /api/cache/{provider}/{symbol}           - 캐시 엔트리 메타데이터

Example:
  go run ./cmd/marketdata serve
  go run ./cmd/marketdata serve --port 8080 --no-scheduler`,
	RunE: runServe,
}

var (
	servePort        string
	serveNoScheduler bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API 서버 포트 (default PORT)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "스케줄러 비활성화")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(false)
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	ctx := context.Background()
	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	// 1. HTTP surface
	router := api.NewRouter(api.Handlers{
		Health: handlers.NewHealthHandler("marketdata", app.Checks, app.Router),
		Series: handlers.NewSeriesHandler(app.Router, log),
		Budget: handlers.NewBudgetHandler(app.Tracker, log),
		Cache:  handlers.NewCacheHandler(app.Cache, app.Router, log),
	}, log)
	server := api.New(cfg, log, router)

	// 2. Scheduler
	var sched *scheduler.Scheduler
	if !serveNoScheduler {
		sched, err = newScheduler(app)
		if err != nil {
			return err
		}
		sched.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if sched != nil {
		sched.Stop()
	}

	log.Info("Server stopped")
	return nil
}

// newScheduler registers the warm-up and maintenance jobs
func newScheduler(app *App) (*scheduler.Scheduler, error) {
	cfg := app.Config
	sched := scheduler.New(app.Logger)

	if cfg.Warm.Enabled {
		period, err := marketdata.ParsePeriod(cfg.Warm.Period)
		if err != nil {
			return nil, fmt.Errorf("WARM_PERIOD: %w", err)
		}
		warm := jobs.NewWarmCacheJob(app.Router, cfg.Warm.Symbols, period, cfg.Warm.Schedule, app.Logger.Module("warm_cache"))
		if err := sched.AddJob(warm); err != nil {
			return nil, err
		}
	}

	if app.Pruner != nil {
		prune := jobs.NewBudgetPruneJob(app.Pruner, cfg.BudgetRetentionDays, nil, app.Logger.Module("budget_prune"))
		if err := sched.AddJob(prune); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
