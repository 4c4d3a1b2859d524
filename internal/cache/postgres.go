package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/pkg/database"
)

var postgresSchema = []string{
	`CREATE SCHEMA IF NOT EXISTS marketdata`,
	`CREATE TABLE IF NOT EXISTS marketdata.cache_entries (
		provider    TEXT        NOT NULL,
		symbol      TEXT        NOT NULL,
		granularity TEXT        NOT NULL,
		as_of_date  DATE        NOT NULL,
		fetched_at  TIMESTAMPTZ NOT NULL,
		ttl_class   TEXT        NOT NULL,
		payload     JSONB       NOT NULL,
		PRIMARY KEY (provider, symbol, granularity, as_of_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_symbol ON marketdata.cache_entries (symbol, granularity)`,
}

// PostgresStore persists entries in PostgreSQL so several processes can share them
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates the schema if needed
func NewPostgresStore(ctx context.Context, db *database.DB) (*PostgresStore, error) {
	if err := db.Migrate(ctx, postgresSchema...); err != nil {
		return nil, fmt.Errorf("cache schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Get returns the latest entry for key
func (s *PostgresStore) Get(ctx context.Context, key Key) (*Entry, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT provider, symbol, granularity, as_of_date, fetched_at, ttl_class, payload::text
		FROM marketdata.cache_entries
		WHERE provider = $1 AND symbol = $2 AND granularity = $3
		ORDER BY as_of_date DESC
		LIMIT 1`,
		key.Provider, key.Symbol, string(key.Granularity),
	)

	entry, err := scanPostgresEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}
	return entry, nil
}

// Put inserts the entry as a new version, or refreshes the same version
func (s *PostgresStore) Put(ctx context.Context, entry *Entry) error {
	next := entry.Clone()
	if err := next.normalize(); err != nil {
		return err
	}

	data, err := encodeSeries(next.Series)
	if err != nil {
		return err
	}

	tag, err := s.db.Pool.Exec(ctx, `
		INSERT INTO marketdata.cache_entries (provider, symbol, granularity, as_of_date, fetched_at, ttl_class, payload)
		SELECT $1::text, $2::text, $3::text, $4::date, $5::timestamptz, $6::text, $7::jsonb
		WHERE NOT EXISTS (
			SELECT 1 FROM marketdata.cache_entries
			WHERE provider = $1 AND symbol = $2 AND granularity = $3 AND as_of_date > $4::date
		)
		ON CONFLICT (provider, symbol, granularity, as_of_date) DO UPDATE SET
			fetched_at = EXCLUDED.fetched_at,
			ttl_class  = EXCLUDED.ttl_class,
			payload    = EXCLUDED.payload`,
		next.Key.Provider, next.Key.Symbol, string(next.Key.Granularity), next.AsOf,
		next.FetchedAt, string(next.TTLClass), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry %s: %w", next.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCoverageRegression
	}
	return nil
}

// List returns the latest entry of every provider holding symbol
func (s *PostgresStore) List(ctx context.Context, symbol string, granularity provider.Granularity) ([]*Entry, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT DISTINCT ON (provider)
			provider, symbol, granularity, as_of_date, fetched_at, ttl_class, payload::text
		FROM marketdata.cache_entries
		WHERE symbol = $1 AND granularity = $2
		ORDER BY provider, as_of_date DESC`,
		symbol, string(granularity),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanPostgresEntry(row pgx.Row) (*Entry, error) {
	var (
		key         Key
		granularity string
		asOf        time.Time
		fetchedAt   time.Time
		ttlClass    string
		data        string
	)
	if err := row.Scan(&key.Provider, &key.Symbol, &granularity, &asOf, &fetchedAt, &ttlClass, &data); err != nil {
		return nil, err
	}
	key.Granularity = provider.Granularity(granularity)

	series, err := decodeSeries(key, []byte(data))
	if err != nil {
		return nil, err
	}

	return &Entry{
		Key:       key,
		Series:    series,
		AsOf:      truncateDay(asOf),
		FetchedAt: fetchedAt.UTC(),
		TTLClass:  TTLClass(ttlClass),
	}, nil
}
