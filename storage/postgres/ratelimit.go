package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edgegate/edgegate/ratelimit"
)

// Postgres error codes relevant to the serializable check-and-increment:
// 40001 is serialization_failure, 23505 is unique_violation (two
// transactions racing to create the same identifier row).
const (
	pqSerializationFailure = "40001"
	pqUniqueViolation      = "23505"
)

type limitRow struct {
	Count       int       `db:"count"`
	WindowStart time.Time `db:"window_start"`
}

// CheckAndIncrement counts one request for identifier inside a serializable
// transaction, so two concurrent requests can never both observe "under
// limit" and both increment past it. A detected write conflict is retried
// exactly once; a second conflict surfaces as an error and the limiter
// above fails open.
func (s *Store) CheckAndIncrement(ctx context.Context, identifier string, limit int, window time.Duration, meta ratelimit.ClientMeta) (*ratelimit.StoreResult, error) {
	res, err := s.checkAndIncrementTx(ctx, identifier, limit, window, meta)
	if err != nil && isRetryableConflict(err) {
		res, err = s.checkAndIncrementTx(ctx, identifier, limit, window, meta)
	}
	if err != nil {
		return nil, fmt.Errorf("check and increment %q: %w", identifier, err)
	}
	return res, nil
}

func (s *Store) checkAndIncrementTx(ctx context.Context, identifier string, limit int, window time.Duration, meta ratelimit.ClientMeta) (*ratelimit.StoreResult, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.clock.Now()

	res, err := s.stepWindow(ctx, tx, identifier, limit, window, meta, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (s *Store) stepWindow(ctx context.Context, tx *sqlx.Tx, identifier string, limit int, window time.Duration, meta ratelimit.ClientMeta, now time.Time) (*ratelimit.StoreResult, error) {
	var row limitRow
	err := tx.GetContext(ctx, &row,
		`SELECT count, window_start FROM rate_limit_entries WHERE identifier = $1`,
		identifier)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rate_limit_entries (identifier, count, window_start, ip, fingerprint, cookie_id)
			VALUES ($1, 1, $2, $3, $4, $5)`,
			identifier, now, meta.IP, meta.Fingerprint, meta.CookieID)
		if err != nil {
			return nil, fmt.Errorf("create row: %w", err)
		}
		return &ratelimit.StoreResult{Allowed: true, Count: 1, WindowStart: now, IsNewWindow: true}, nil

	case err != nil:
		return nil, fmt.Errorf("read row: %w", err)
	}

	// Window elapsed: overwrite in place rather than delete-then-insert,
	// which would reopen the creation race.
	if now.Sub(row.WindowStart) >= window {
		_, err = tx.ExecContext(ctx, `
			UPDATE rate_limit_entries
			SET count = 1, window_start = $1, ip = $2, fingerprint = $3, cookie_id = $4
			WHERE identifier = $5`,
			now, meta.IP, meta.Fingerprint, meta.CookieID, identifier)
		if err != nil {
			return nil, fmt.Errorf("restart window: %w", err)
		}
		return &ratelimit.StoreResult{Allowed: true, Count: 1, WindowStart: now, IsNewWindow: true}, nil
	}

	if row.Count >= limit {
		return &ratelimit.StoreResult{Allowed: false, Count: row.Count, WindowStart: row.WindowStart}, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE rate_limit_entries SET count = count + 1 WHERE identifier = $1`,
		identifier)
	if err != nil {
		return nil, fmt.Errorf("increment: %w", err)
	}
	return &ratelimit.StoreResult{Allowed: true, Count: row.Count + 1, WindowStart: row.WindowStart}, nil
}

func isRetryableConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqSerializationFailure || string(pqErr.Code) == pqUniqueViolation
}
