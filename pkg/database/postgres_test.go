package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/marketdata/pkg/config"
)

// testConfig returns a config pointing at TEST_DATABASE_URL or skips
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	return &config.Config{
		Database: config.DatabaseConfig{
			URL:             url,
			MaxConns:        4,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		},
	}
}

func TestNew(t *testing.T) {
	db, err := New(testConfig(t))
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, db.Ping(ctx))
}

func TestHealthCheck(t *testing.T) {
	db, err := New(testConfig(t))
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := db.HealthCheck(ctx)
	require.NoError(t, err)

	assert.True(t, status.Healthy)
	assert.Equal(t, int32(4), status.Stats.MaxConns)
}

func TestMigrate(t *testing.T) {
	db, err := New(testConfig(t))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	stmt := `CREATE TABLE IF NOT EXISTS migrate_probe (id INT PRIMARY KEY)`

	require.NoError(t, db.Migrate(ctx, stmt))
	require.NoError(t, db.Migrate(ctx, stmt))
	_, err = db.Pool.Exec(ctx, `DROP TABLE migrate_probe`)
	require.NoError(t, err)
}

func TestNewWithInvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"bad scheme", "invalid://url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Database: config.DatabaseConfig{
					URL:             tt.url,
					MaxConns:        25,
					MinConns:        5,
					MaxConnLifetime: time.Hour,
					MaxConnIdleTime: 30 * time.Minute,
				},
			}

			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestClose(t *testing.T) {
	db, err := New(testConfig(t))
	require.NoError(t, err)

	// Double close should not panic
	db.Close()
	db.Close()
}
