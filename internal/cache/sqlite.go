package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/marketdata/internal/provider"
	"github.com/wonny/marketdata/pkg/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		provider    TEXT    NOT NULL,
		symbol      TEXT    NOT NULL,
		granularity TEXT    NOT NULL,
		as_of_date  TEXT    NOT NULL,
		fetched_at  INTEGER NOT NULL,
		ttl_class   TEXT    NOT NULL,
		payload     TEXT    NOT NULL,
		PRIMARY KEY (provider, symbol, granularity, as_of_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_symbol ON cache_entries (symbol, granularity)`,
}

// SQLiteStore persists entries in a local SQLite file.
// Each as_of version is its own row; reads take the latest.
type SQLiteStore struct {
	db *sqlite.DB
}

// NewSQLiteStore creates the schema if needed
func NewSQLiteStore(ctx context.Context, db *sqlite.DB) (*SQLiteStore, error) {
	if err := db.Migrate(ctx, sqliteSchema...); err != nil {
		return nil, fmt.Errorf("cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the latest entry for key
func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Entry, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT provider, symbol, granularity, as_of_date, fetched_at, ttl_class, payload
		FROM cache_entries
		WHERE provider = ? AND symbol = ? AND granularity = ?
		ORDER BY as_of_date DESC
		LIMIT 1`,
		key.Provider, key.Symbol, string(key.Granularity),
	)

	entry, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}
	return entry, nil
}

// Put inserts the entry as a new version, or refreshes the same version.
// The guard and the write are one statement.
func (s *SQLiteStore) Put(ctx context.Context, entry *Entry) error {
	next := entry.Clone()
	if err := next.normalize(); err != nil {
		return err
	}

	data, err := encodeSeries(next.Series)
	if err != nil {
		return err
	}

	asOf := next.AsOf.Format(provider.DateLayout)
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO cache_entries (provider, symbol, granularity, as_of_date, fetched_at, ttl_class, payload)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM cache_entries
			WHERE provider = ? AND symbol = ? AND granularity = ? AND as_of_date > ?
		)
		ON CONFLICT (provider, symbol, granularity, as_of_date) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			ttl_class  = excluded.ttl_class,
			payload    = excluded.payload`,
		next.Key.Provider, next.Key.Symbol, string(next.Key.Granularity), asOf,
		next.FetchedAt.UnixMilli(), string(next.TTLClass), string(data),
		next.Key.Provider, next.Key.Symbol, string(next.Key.Granularity), asOf,
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry %s: %w", next.Key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to put cache entry %s: %w", next.Key, err)
	}
	if n == 0 {
		return ErrCoverageRegression
	}
	return nil
}

// List returns the latest entry of every provider holding symbol
func (s *SQLiteStore) List(ctx context.Context, symbol string, granularity provider.Granularity) ([]*Entry, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT c.provider, c.symbol, c.granularity, c.as_of_date, c.fetched_at, c.ttl_class, c.payload
		FROM cache_entries c
		WHERE c.symbol = ? AND c.granularity = ?
		  AND c.as_of_date = (
			SELECT MAX(as_of_date) FROM cache_entries
			WHERE provider = c.provider AND symbol = c.symbol AND granularity = c.granularity
		  )
		ORDER BY c.provider`,
		symbol, string(granularity),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*Entry, error) {
	var (
		key         Key
		granularity string
		asOf        string
		fetchedAtMs int64
		ttlClass    string
		data        string
	)
	if err := row.Scan(&key.Provider, &key.Symbol, &granularity, &asOf, &fetchedAtMs, &ttlClass, &data); err != nil {
		return nil, err
	}
	key.Granularity = provider.Granularity(granularity)

	asOfDate, err := time.Parse(provider.DateLayout, asOf)
	if err != nil {
		return nil, fmt.Errorf("bad as_of_date %q: %w", asOf, err)
	}

	series, err := decodeSeries(key, []byte(data))
	if err != nil {
		return nil, err
	}

	return &Entry{
		Key:       key,
		Series:    series,
		AsOf:      asOfDate,
		FetchedAt: time.UnixMilli(fetchedAtMs).UTC(),
		TTLClass:  TTLClass(ttlClass),
	}, nil
}
