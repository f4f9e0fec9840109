// Package session tracks authenticated sessions and detects anomalies at
// session creation time. It tracks, it does not authenticate: credential
// validation and token issuance live elsewhere; this package only records
// where and on what a user is signed in, and raises heuristic signals when
// that picture looks suspicious.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when no session matches.
var ErrNotFound = errors.New("session not found")

// Session is the tracking record for one issued token. At most one record
// exists per TokenID, and IsActive is monotonic: once false it never flips
// back to true.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	TokenID      string     `json:"tokenId"`
	IPAddress    string     `json:"ipAddress"`
	Browser      string     `json:"browser"`
	Device       string     `json:"device"`
	OS           string     `json:"os"`
	LastActivity time.Time  `json:"lastActivity"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	IsActive     bool       `json:"isActive"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	RevokeReason string     `json:"revokeReason,omitempty"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session is active and not expired at now.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && !s.Expired(now)
}

// ClientContext is what the login path knows about the client creating a
// session: the resolved origin IP and the raw identification string, which
// is parsed into browser, device class, and operating system.
type ClientContext struct {
	IP        string
	UserAgent string
}

// NewSession creates an active session record for a freshly issued token.
func NewSession(userID, tokenID string, client ClientContext, now time.Time, ttl time.Duration) *Session {
	fp := ParseUserAgent(client.UserAgent)
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		TokenID:      tokenID,
		IPAddress:    client.IP,
		Browser:      fp.Browser,
		Device:       fp.Device,
		OS:           fp.OS,
		LastActivity: now,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		IsActive:     true,
	}
}

// Store is the persistence port for session records. Implementations must
// uphold the one-record-per-TokenID invariant and must never reactivate a
// deactivated session.
type Store interface {
	// SaveSession persists a new session record.
	SaveSession(ctx context.Context, s *Session) error

	// GetSessionByToken retrieves the record for a token.
	GetSessionByToken(ctx context.Context, tokenID string) (*Session, error)

	// ListActiveSessions returns the user's active, non-expired sessions.
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*Session, error)

	// TouchSession updates LastActivity for an active session. Touching an
	// inactive or unknown session is a no-op, not an error.
	TouchSession(ctx context.Context, tokenID string, at time.Time) error

	// RevokeSession deactivates one session with a reason. Revoking an
	// already-inactive session is a no-op.
	RevokeSession(ctx context.Context, tokenID, reason string, at time.Time) error

	// RevokeOtherSessions deactivates all of the user's active sessions
	// except keepTokenID, returning how many were revoked.
	RevokeOtherSessions(ctx context.Context, userID, keepTokenID, reason string, at time.Time) (int, error)

	// ExpireSessions deactivates every active session past its expiry,
	// returning how many were swept.
	ExpireSessions(ctx context.Context, now time.Time) (int, error)
}
