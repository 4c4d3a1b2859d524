package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/marketdata/internal/api/handlers"
	"github.com/wonny/marketdata/internal/budget"
	"github.com/wonny/marketdata/internal/cache"
	"github.com/wonny/marketdata/internal/external/alphavantage"
	"github.com/wonny/marketdata/internal/external/fred"
	"github.com/wonny/marketdata/internal/external/yahoo"
	"github.com/wonny/marketdata/internal/marketdata"
	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/internal/retry"
	"github.com/wonny/marketdata/internal/routing"
	"github.com/wonny/marketdata/internal/scheduler/jobs"
	"github.com/wonny/marketdata/pkg/config"
	"github.com/wonny/marketdata/pkg/database"
	"github.com/wonny/marketdata/pkg/logger"
	"github.com/wonny/marketdata/pkg/redis"
	"github.com/wonny/marketdata/pkg/sqlite"
)

// redisPrefix namespaces budget counters in a shared Redis
const redisPrefix = "marketdata"

// App holds the wired acquisition layer shared by every command
// ⭐ SSOT: 의존성 조립은 여기서만
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Cache   cache.Store
	Tracker *budget.Tracker
	Router  *marketdata.Router
	// Pruner is set when budget counters live in durable local storage
	Pruner jobs.CounterPruner
	// Checks are the backend probes reported by /health
	Checks map[string]handlers.HealthCheck

	sqliteDB *sqlite.DB
	closers  []func() error
}

// NewApp opens the configured backends and wires the router
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: log,
		Checks: make(map[string]handlers.HealthCheck),
	}

	if err := app.openCache(ctx); err != nil {
		app.Close()
		return nil, err
	}

	budgetStore, err := app.openBudgetStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	routes, err := loadRoutes(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	history, err := marketdata.ParsePeriod(cfg.History)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("FETCH_HISTORY: %w", err)
	}

	policy := retryPolicy(cfg.Retry)
	clients := []provider.Client{
		alphavantage.NewClient(cfg.AlphaVantage, policy, log),
		yahoo.NewClient(cfg.Yahoo, policy, log),
		fred.NewClient(cfg.FRED, policy, log),
	}

	app.Tracker = budget.NewTracker(budgetStore, providerLimits(cfg), nil, log)

	app.Router, err = marketdata.NewRouter(routes, clients, app.Cache, app.Tracker, log, marketdata.WithHistory(history))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("wire router: %w", err)
	}

	for _, c := range clients {
		if !c.Available() {
			log.WithField("provider", c.Name()).Warn("Provider not configured, it will be skipped")
		}
	}

	log.WithFields(map[string]interface{}{
		"cache":   cfg.CacheBackend,
		"budget":  cfg.BudgetBackend,
		"history": history.String(),
	}).Info("Market data layer ready")

	return app, nil
}

// Close releases every backend in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openSQLite opens the local database once; cache and budget share it
func (a *App) openSQLite() (*sqlite.DB, error) {
	if a.sqliteDB != nil {
		return a.sqliteDB, nil
	}

	db, err := sqlite.New(a.Config.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a.sqliteDB = db
	a.closers = append(a.closers, db.Close)
	a.Checks["sqlite"] = func(ctx context.Context) error {
		return db.Conn().PingContext(ctx)
	}
	return db, nil
}

func (a *App) openCache(ctx context.Context) error {
	switch a.Config.CacheBackend {
	case "memory":
		a.Cache = cache.NewMemoryStore()

	case "postgres":
		db, err := database.New(a.Config)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		a.Checks["postgres"] = func(ctx context.Context) error {
			_, err := db.HealthCheck(ctx)
			return err
		}

		store, err := cache.NewPostgresStore(ctx, db)
		if err != nil {
			return err
		}
		a.Cache = store

	default:
		db, err := a.openSQLite()
		if err != nil {
			return err
		}
		store, err := cache.NewSQLiteStore(ctx, db)
		if err != nil {
			return err
		}
		a.Cache = store
	}
	return nil
}

func (a *App) openBudgetStore(ctx context.Context) (budget.Store, error) {
	switch a.Config.BudgetBackend {
	case "memory":
		return budget.NewMemoryStore(), nil

	case "redis":
		client, err := redis.New(a.Config)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.Checks["redis"] = func(ctx context.Context) error {
			return client.Redis().Ping(ctx).Err()
		}
		return budget.NewRedisStore(client, redisPrefix), nil

	default:
		db, err := a.openSQLite()
		if err != nil {
			return nil, err
		}
		store, err := budget.NewSQLStore(ctx, db)
		if err != nil {
			return nil, err
		}
		a.Pruner = store
		return store, nil
	}
}

func loadRoutes(cfg *config.Config) (*routing.Table, error) {
	if cfg.RoutingFile == "" {
		return routing.DefaultTable(), nil
	}
	routes, err := routing.Load(cfg.RoutingFile)
	if err != nil {
		return nil, fmt.Errorf("load routing table: %w", err)
	}
	return routes, nil
}

// providerLimits maps provider names to their daily call limits
func providerLimits(cfg *config.Config) map[string]int {
	return map[string]int{
		alphavantage.Name: cfg.AlphaVantage.DailyLimit,
		yahoo.Name:        cfg.Yahoo.DailyLimit,
		fred.Name:         cfg.FRED.DailyLimit,
	}
}

// retryPolicy builds the shared policy from configuration
func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	policy.BaseDelay = cfg.BaseDelay
	policy.MaxDelay = cfg.MaxDelay
	policy.RateLimitDelay = cfg.RateLimitDelay
	policy.Jitter = cfg.Jitter
	return policy
}
