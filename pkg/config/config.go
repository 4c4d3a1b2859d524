package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the market data service
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Storage backends
	CacheBackend  string // sqlite, postgres, memory
	BudgetBackend string // sqlite, redis, memory
	SQLitePath    string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Providers
	AlphaVantage ProviderConfig
	Yahoo        ProviderConfig
	FRED         ProviderConfig

	// Retry policy shared by every provider client
	Retry RetryConfig

	// Routing table (YAML). Empty means the built-in table.
	RoutingFile string

	// History is the minimum range every provider fetch covers
	History string

	// BudgetRetentionDays is how long durable budget counters are kept
	BudgetRetentionDays int

	// Cache warm-up
	Warm WarmConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// ProviderConfig holds per-provider credentials and limits
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	DailyLimit  int           // 0 = unmetered
	MinInterval time.Duration // minimum gap between two requests
	Timeout     time.Duration // hard timeout per attempt
	Premium     bool          // paid tier; unlocks full daily history
}

// RetryConfig holds the backoff parameters
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	Jitter         float64
}

// WarmConfig controls the scheduled cache warm-up job
type WarmConfig struct {
	Enabled  bool
	Schedule string
	Symbols  []string
	Period   string
}

var (
	validEnvs           = []string{"development", "staging", "production"}
	validCacheBackends  = []string{"sqlite", "postgres", "memory"}
	validBudgetBackends = []string{"sqlite", "redis", "memory"}
)

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		CacheBackend:  strings.ToLower(getEnv("CACHE_BACKEND", "sqlite")),
		BudgetBackend: strings.ToLower(getEnv("BUDGET_BACKEND", "sqlite")),
		SQLitePath:    getEnv("SQLITE_PATH", "data/marketdata.db"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		// Alpha Vantage free tier: 25 calls/day, 5 calls/minute
		AlphaVantage: ProviderConfig{
			APIKey:      getEnv("ALPHAVANTAGE_API_KEY", ""),
			BaseURL:     getEnv("ALPHAVANTAGE_BASE_URL", "https://www.alphavantage.co"),
			DailyLimit:  getEnvAsInt("ALPHAVANTAGE_DAILY_LIMIT", 25),
			MinInterval: getEnvAsDuration("ALPHAVANTAGE_MIN_INTERVAL", "12s"),
			Timeout:     getEnvAsDuration("ALPHAVANTAGE_TIMEOUT", "15s"),
			Premium:     getEnvAsBool("ALPHAVANTAGE_PREMIUM", false),
		},

		Yahoo: ProviderConfig{
			BaseURL:     getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			DailyLimit:  getEnvAsInt("YAHOO_DAILY_LIMIT", 0),
			MinInterval: getEnvAsDuration("YAHOO_MIN_INTERVAL", "1s"),
			Timeout:     getEnvAsDuration("YAHOO_TIMEOUT", "15s"),
		},

		FRED: ProviderConfig{
			APIKey:      getEnv("FRED_API_KEY", ""),
			BaseURL:     getEnv("FRED_BASE_URL", "https://api.stlouisfed.org"),
			DailyLimit:  getEnvAsInt("FRED_DAILY_LIMIT", 0),
			MinInterval: getEnvAsDuration("FRED_MIN_INTERVAL", "500ms"),
			Timeout:     getEnvAsDuration("FRED_TIMEOUT", "15s"),
		},

		Retry: RetryConfig{
			MaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:      getEnvAsDuration("RETRY_BASE_DELAY", "1s"),
			MaxDelay:       getEnvAsDuration("RETRY_MAX_DELAY", "30s"),
			RateLimitDelay: getEnvAsDuration("RETRY_RATE_LIMIT_DELAY", "20s"),
			Jitter:         getEnvAsFloat("RETRY_JITTER", 0.2),
		},

		RoutingFile: getEnv("ROUTING_FILE", ""),

		History:             getEnv("FETCH_HISTORY", "5y"),
		BudgetRetentionDays: getEnvAsInt("BUDGET_RETENTION_DAYS", 30),

		Warm: WarmConfig{
			Enabled:  getEnvAsBool("WARM_ENABLED", false),
			Schedule: getEnv("WARM_SCHEDULE", "0 30 22 * * 1-5"), // 22:30 UTC, after the US close
			Symbols:  getEnvAsList("WARM_SYMBOLS", []string{"SPY", "QQQ", "^VIX"}),
			Period:   getEnv("WARM_PERIOD", "1y"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if !contains(validEnvs, c.Env) {
		return fmt.Errorf("ENV must be one of: %s", strings.Join(validEnvs, ", "))
	}

	if !contains(validCacheBackends, c.CacheBackend) {
		return fmt.Errorf("CACHE_BACKEND must be one of: %s", strings.Join(validCacheBackends, ", "))
	}

	if !contains(validBudgetBackends, c.BudgetBackend) {
		return fmt.Errorf("BUDGET_BACKEND must be one of: %s", strings.Join(validBudgetBackends, ", "))
	}

	if c.CacheBackend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when CACHE_BACKEND=postgres")
	}

	if c.BudgetBackend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("REDIS_ENABLED must be true when BUDGET_BACKEND=redis")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("RETRY_JITTER must be between 0 and 1")
	}

	if c.BudgetRetentionDays < 1 {
		return fmt.Errorf("BUDGET_RETENTION_DAYS must be at least 1")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
