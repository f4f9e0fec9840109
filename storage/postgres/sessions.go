package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edgegate/edgegate/session"
)

type sessionRow struct {
	ID           string       `db:"id"`
	UserID       string       `db:"user_id"`
	TokenID      string       `db:"token_id"`
	IPAddress    string       `db:"ip_address"`
	Browser      string       `db:"browser"`
	Device       string       `db:"device"`
	OS           string       `db:"os"`
	LastActivity time.Time    `db:"last_activity"`
	CreatedAt    time.Time    `db:"created_at"`
	ExpiresAt    time.Time    `db:"expires_at"`
	IsActive     bool         `db:"is_active"`
	RevokedAt    sql.NullTime `db:"revoked_at"`
	RevokeReason string       `db:"revoke_reason"`
}

func (r *sessionRow) toSession() *session.Session {
	s := &session.Session{
		ID:           r.ID,
		UserID:       r.UserID,
		TokenID:      r.TokenID,
		IPAddress:    r.IPAddress,
		Browser:      r.Browser,
		Device:       r.Device,
		OS:           r.OS,
		LastActivity: r.LastActivity,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		IsActive:     r.IsActive,
		RevokeReason: r.RevokeReason,
	}
	if r.RevokedAt.Valid {
		at := r.RevokedAt.Time
		s.RevokedAt = &at
	}
	return s
}

// SaveSession persists a new session record. The unique constraint on
// token_id upholds the one-record-per-token invariant.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions
			(id, user_id, token_id, ip_address, browser, device, os,
			 last_activity, created_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.ID, sess.UserID, sess.TokenID, sess.IPAddress, sess.Browser,
		sess.Device, sess.OS, sess.LastActivity, sess.CreatedAt,
		sess.ExpiresAt, sess.IsActive)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSessionByToken retrieves the session backing a token.
func (s *Store) GetSessionByToken(ctx context.Context, tokenID string) (*session.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM user_sessions WHERE token_id = $1`, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toSession(), nil
}

// ListActiveSessions returns the user's active, non-expired sessions,
// newest first.
func (s *Store) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*session.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM user_sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at DESC`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	out := make([]*session.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSession())
	}
	return out, nil
}

// TouchSession updates LastActivity for an active session; inactive or
// unknown tokens are a no-op.
func (s *Store) TouchSession(ctx context.Context, tokenID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions SET last_activity = $1
		WHERE token_id = $2 AND is_active`,
		at, tokenID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// RevokeSession deactivates one session. The is_active guard makes
// deactivation monotonic and keeps the first revocation's metadata.
func (s *Store) RevokeSession(ctx context.Context, tokenID, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions
		SET is_active = FALSE, revoked_at = $1, revoke_reason = $2
		WHERE token_id = $3 AND is_active`,
		at, reason, tokenID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeOtherSessions deactivates all of the user's active sessions except
// keepTokenID.
func (s *Store) RevokeOtherSessions(ctx context.Context, userID, keepTokenID, reason string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions
		SET is_active = FALSE, revoked_at = $1, revoke_reason = $2
		WHERE user_id = $3 AND is_active AND token_id <> $4`,
		at, reason, userID, keepTokenID)
	if err != nil {
		return 0, fmt.Errorf("revoke other sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke other sessions: %w", err)
	}
	return int(n), nil
}

// ExpireSessions deactivates every active session past its expiry.
func (s *Store) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions
		SET is_active = FALSE, revoked_at = $1, revoke_reason = 'expired'
		WHERE is_active AND expires_at <= $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return int(n), nil
}
