package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edgegate/edgegate/ratelimit"
)

type limitRow struct {
	Count       int       `db:"count"`
	WindowStart time.Time `db:"window_start"`
}

// CheckAndIncrement counts one request for identifier using single atomic
// conditional statements instead of a wrapping transaction: each statement
// succeeds or affects zero rows, and "zero rows" is disambiguated by a
// follow-up read. SQLite executes one writer at a time, so a conditional
// UPDATE is check-and-act in one step.
func (s *Store) CheckAndIncrement(ctx context.Context, identifier string, limit int, window time.Duration, meta ratelimit.ClientMeta) (*ratelimit.StoreResult, error) {
	// Two passes cover every interleaving: a concurrent writer can make at
	// most one of our conditional statements miss, and the second pass then
	// observes the settled row.
	for attempt := 0; attempt < 2; attempt++ {
		res, retry, err := s.step(ctx, identifier, limit, window, meta)
		if err != nil {
			return nil, fmt.Errorf("check and increment %q: %w", identifier, err)
		}
		if !retry {
			return res, nil
		}
	}
	return nil, fmt.Errorf("check and increment %q: row kept moving", identifier)
}

func (s *Store) step(ctx context.Context, identifier string, limit int, window time.Duration, meta ratelimit.ClientMeta) (*ratelimit.StoreResult, bool, error) {
	now := s.clock.Now()
	windowFloor := now.Add(-window)

	// Increment only while the current window is valid and under limit.
	res, err := s.db.ExecContext(ctx, `
		UPDATE rate_limit_entries
		SET count = count + 1
		WHERE identifier = ? AND window_start > ? AND count < ?`,
		identifier, windowFloor, limit)
	if err != nil {
		return nil, false, fmt.Errorf("conditional increment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, false, err
	} else if n == 1 {
		row, err := s.readRow(ctx, identifier)
		if err != nil {
			return nil, false, err
		}
		return &ratelimit.StoreResult{Allowed: true, Count: row.Count, WindowStart: row.WindowStart}, false, nil
	}

	// Zero rows: missing row, expired window, or at limit.
	row, err := s.readRow(ctx, identifier)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO rate_limit_entries (identifier, count, window_start, ip, fingerprint, cookie_id)
			VALUES (?, 1, ?, ?, ?, ?)
			ON CONFLICT (identifier) DO NOTHING`,
			identifier, now, meta.IP, meta.Fingerprint, meta.CookieID)
		if err != nil {
			return nil, false, fmt.Errorf("create row: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, false, err
		} else if n == 0 {
			// Lost the creation race; re-run against the settled row.
			return nil, true, nil
		}
		return &ratelimit.StoreResult{Allowed: true, Count: 1, WindowStart: now, IsNewWindow: true}, false, nil

	case err != nil:
		return nil, false, err
	}

	if now.Sub(row.WindowStart) >= window {
		// Restart the window in place, guarded by the old window_start so a
		// concurrent restart cannot be double-applied.
		res, err := s.db.ExecContext(ctx, `
			UPDATE rate_limit_entries
			SET count = 1, window_start = ?, ip = ?, fingerprint = ?, cookie_id = ?
			WHERE identifier = ? AND window_start = ?`,
			now, meta.IP, meta.Fingerprint, meta.CookieID, identifier, row.WindowStart)
		if err != nil {
			return nil, false, fmt.Errorf("restart window: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, false, err
		} else if n == 0 {
			return nil, true, nil
		}
		return &ratelimit.StoreResult{Allowed: true, Count: 1, WindowStart: now, IsNewWindow: true}, false, nil
	}

	return &ratelimit.StoreResult{Allowed: false, Count: row.Count, WindowStart: row.WindowStart}, false, nil
}

func (s *Store) readRow(ctx context.Context, identifier string) (*limitRow, error) {
	var row limitRow
	err := s.db.GetContext(ctx, &row,
		`SELECT count, window_start FROM rate_limit_entries WHERE identifier = ?`,
		identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("read row: %w", err)
	}
	return &row, nil
}
