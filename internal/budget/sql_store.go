package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wonny/marketdata/pkg/sqlite"
)

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS budget_counters (
		provider TEXT    NOT NULL,
		day      TEXT    NOT NULL,
		used     INTEGER NOT NULL DEFAULT 0 CHECK (used >= 0),
		PRIMARY KEY (provider, day)
	)`,
}

// SQLStore persists counters in SQLite so a restart mid-day keeps the count.
// The increment is a conditional UPDATE, so the limit check and the write
// cannot interleave with another reservation.
type SQLStore struct {
	db *sqlite.DB
}

// NewSQLStore creates the schema if needed
func NewSQLStore(ctx context.Context, db *sqlite.DB) (*SQLStore, error) {
	if err := db.Migrate(ctx, sqlSchema...); err != nil {
		return nil, fmt.Errorf("budget schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Reserve increments the counter if it is below limit
func (s *SQLStore) Reserve(ctx context.Context, provider, day string, limit int) (bool, error) {
	reserved := false

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO budget_counters (provider, day, used) VALUES (?, ?, 0)
			 ON CONFLICT (provider, day) DO NOTHING`,
			provider, day,
		); err != nil {
			return fmt.Errorf("failed to create counter: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE budget_counters SET used = used + 1
			 WHERE provider = ? AND day = ? AND used < ?`,
			provider, day, limit,
		)
		if err != nil {
			return fmt.Errorf("failed to increment counter: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to increment counter: %w", err)
		}
		reserved = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return reserved, nil
}

// Release decrements the counter, never below zero
func (s *SQLStore) Release(ctx context.Context, provider, day string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE budget_counters SET used = used - 1
		 WHERE provider = ? AND day = ? AND used > 0`,
		provider, day,
	)
	if err != nil {
		return fmt.Errorf("failed to release counter: %w", err)
	}
	return nil
}

// Used returns the current count
func (s *SQLStore) Used(ctx context.Context, provider, day string) (int, error) {
	var used int
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT used FROM budget_counters WHERE provider = ? AND day = ?`,
		provider, day,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return used, nil
}

// Prune deletes counters for days before the given day key
func (s *SQLStore) Prune(ctx context.Context, before string) (int64, error) {
	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM budget_counters WHERE day < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune counters: %w", err)
	}
	return res.RowsAffected()
}
