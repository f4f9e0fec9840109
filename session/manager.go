package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSessionTTL is the session lifetime used when the caller does not
// specify one.
const DefaultSessionTTL = 7 * 24 * time.Hour

// DefaultSweepInterval is how often the background sweep deactivates
// expired sessions.
const DefaultSweepInterval = 15 * time.Minute

// Manager drives the session lifecycle: creation with anomaly evaluation,
// activity touches, revocation, and the expiry sweep.
type Manager struct {
	store   Store
	tracker *Tracker
	logger  *slog.Logger
	clock   Clock
	ttl     time.Duration
}

// NewManager creates a manager. tracker may be nil to disable anomaly
// evaluation; ttl of zero selects DefaultSessionTTL.
func NewManager(store Store, tracker *Tracker, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		store:   store,
		tracker: tracker,
		logger:  logger,
		clock:   systemClock{},
		ttl:     ttl,
	}
}

// SetClock overrides the time source (tests only).
func (m *Manager) SetClock(c Clock) {
	m.clock = c
	if m.tracker != nil {
		m.tracker.SetClock(c)
	}
}

// Create records a session for a freshly issued token and evaluates it for
// anomalies. The anomaly result is advisory; session creation succeeds even
// when the evaluation fails, since a store hiccup on the read side must not
// break login.
func (m *Manager) Create(ctx context.Context, userID, tokenID string, client ClientContext) (*Session, Anomaly, error) {
	sess := NewSession(userID, tokenID, client, m.clock.Now(), m.ttl)
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, Anomaly{}, fmt.Errorf("save session: %w", err)
	}

	var anomaly Anomaly
	if m.tracker != nil {
		var err error
		anomaly, err = m.tracker.OnSessionCreated(ctx, sess)
		if err != nil {
			m.logger.Warn("session anomaly evaluation failed",
				"user_id", userID, "error", err)
		}
	}
	return sess, anomaly, nil
}

// Touch records activity on the token's session.
func (m *Manager) Touch(ctx context.Context, tokenID string) error {
	return m.store.TouchSession(ctx, tokenID, m.clock.Now())
}

// Revoke deactivates the token's session.
func (m *Manager) Revoke(ctx context.Context, tokenID, reason string) error {
	return m.store.RevokeSession(ctx, tokenID, reason, m.clock.Now())
}

// RevokeOthers deactivates all of the user's sessions except the one
// backing keepTokenID, returning how many were revoked.
func (m *Manager) RevokeOthers(ctx context.Context, userID, keepTokenID string) (int, error) {
	return m.store.RevokeOtherSessions(ctx, userID, keepTokenID, "revoked by user from another session", m.clock.Now())
}

// List returns the user's live sessions, for the account security screen.
func (m *Manager) List(ctx context.Context, userID string) ([]*Session, error) {
	return m.store.ListActiveSessions(ctx, userID, m.clock.Now())
}

// SweepExpired deactivates sessions past their expiry.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.store.ExpireSessions(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	if n > 0 {
		m.logger.Info("expired sessions swept", "count", n)
	}
	return n, nil
}

// RunSweeper runs the expiry sweep every interval until ctx is cancelled.
// Intended to be launched as a goroutine from the process entry point.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepExpired(ctx); err != nil {
				m.logger.Warn("session expiry sweep failed", "error", err)
			}
		}
	}
}
