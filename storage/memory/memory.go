// Package memory provides in-memory implementations of the edgegate
// persistence ports: incident records, session tracking, and the durable
// rate-limit rows. It backs tests, local development, and single-instance
// deployments that accept losing state on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edgegate/edgegate/incident"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/session"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Store is the combined in-memory backend. A single mutex covers all three
// record families; contention is acceptable at the scale this backend is
// meant for.
type Store struct {
	mu sync.Mutex

	incidents map[string]*incident.Incident
	sessions  map[string]*session.Session // by TokenID
	limits    map[string]*limitRow

	clock Clock
}

type limitRow struct {
	count       int
	windowStart time.Time
	meta        ratelimit.ClientMeta
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		sessions:  make(map[string]*session.Session),
		limits:    make(map[string]*limitRow),
		clock:     systemClock{},
	}
}

// SetClock overrides the time source (tests only).
func (s *Store) SetClock(c Clock) { s.clock = c }

// --- incident.Store ---

// SaveIncident persists a copy of the incident.
func (s *Store) SaveIncident(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, incident.ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(_ context.Context, filter incident.ListFilter) ([]*incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*incident.Incident, 0)
	for _, inc := range s.incidents {
		if filter.Type != "" && inc.Type != filter.Type {
			continue
		}
		if inc.Severity < filter.MinSeverity {
			continue
		}
		if filter.Unresolved && inc.Resolved {
			continue
		}
		if !filter.Since.IsZero() && inc.CreatedAt.Before(filter.Since) {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ResolveIncident marks an incident resolved. An empty resolvedBy is
// rejected so resolved records always carry their operator.
func (s *Store) ResolveIncident(_ context.Context, id, resolvedBy, resolution string, resolvedAt time.Time) error {
	if resolvedBy == "" {
		return fmt.Errorf("resolve incident %s: resolvedBy is required", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return incident.ErrNotFound
	}
	inc.Resolved = true
	inc.ResolvedBy = resolvedBy
	inc.Resolution = resolution
	at := resolvedAt
	inc.ResolvedAt = &at
	return nil
}

// --- session.Store ---

// SaveSession persists a copy of the session, keyed by token.
func (s *Store) SaveSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.TokenID] = &cp
	return nil
}

// GetSessionByToken retrieves the session for a token.
func (s *Store) GetSessionByToken(_ context.Context, tokenID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenID]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// ListActiveSessions returns the user's active, non-expired sessions.
func (s *Store) ListActiveSessions(_ context.Context, userID string, now time.Time) ([]*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Live(now) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// TouchSession updates LastActivity for an active session.
func (s *Store) TouchSession(_ context.Context, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[tokenID]; ok && sess.IsActive {
		sess.LastActivity = at
	}
	return nil
}

// RevokeSession deactivates one session. Deactivation is monotonic: an
// already-inactive session is left untouched.
func (s *Store) RevokeSession(_ context.Context, tokenID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[tokenID]; ok && sess.IsActive {
		deactivate(sess, reason, at)
	}
	return nil
}

// RevokeOtherSessions deactivates all of the user's active sessions except
// keepTokenID.
func (s *Store) RevokeOtherSessions(_ context.Context, userID, keepTokenID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActive && token != keepTokenID {
			deactivate(sess, reason, at)
			n++
		}
	}
	return n, nil
}

// ExpireSessions deactivates every active session past its expiry.
func (s *Store) ExpireSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.IsActive && sess.Expired(now) {
			deactivate(sess, "expired", now)
			n++
		}
	}
	return n, nil
}

func deactivate(sess *session.Session, reason string, at time.Time) {
	sess.IsActive = false
	t := at
	sess.RevokedAt = &t
	sess.RevokeReason = reason
}

// --- ratelimit.Store ---

// CheckAndIncrement atomically counts one request for identifier within
// the current window. The mutex makes the read-check-increment sequence
// atomic, which is the whole point of the durable limiter port; the row is
// overwritten on window expiry, never deleted.
func (s *Store) CheckAndIncrement(_ context.Context, identifier string, limit int, window time.Duration, meta ratelimit.ClientMeta) (*ratelimit.StoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	row, ok := s.limits[identifier]

	if !ok || now.Sub(row.windowStart) >= window {
		s.limits[identifier] = &limitRow{count: 1, windowStart: now, meta: meta}
		return &ratelimit.StoreResult{
			Allowed:     true,
			Count:       1,
			WindowStart: now,
			IsNewWindow: true,
		}, nil
	}

	if row.count >= limit {
		return &ratelimit.StoreResult{
			Allowed:     false,
			Count:       row.count,
			WindowStart: row.windowStart,
		}, nil
	}

	row.count++
	return &ratelimit.StoreResult{
		Allowed:     true,
		Count:       row.count,
		WindowStart: row.windowStart,
	}, nil
}
