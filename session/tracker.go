package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgegate/edgegate/incident"
	"github.com/edgegate/edgegate/instrumentation"
	"github.com/edgegate/edgegate/security"
)

// Anomaly is the signal computed for a newly created session.
type Anomaly struct {
	// ConcurrentSessionCount is how many other live sessions differ from
	// the new one in IP or browser.
	ConcurrentSessionCount int `json:"concurrentSessionCount"`

	// IsNewLocation reports that the new session's IP differs from every
	// other live session of the user.
	IsNewLocation bool `json:"isNewLocation"`
}

// Priority ranks a user notification.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// Notification is a user-facing alert about session activity.
type Notification struct {
	Priority Priority
	Title    string
	Body     string
}

// Notifier delivers user notifications. Delivery failures are logged and
// swallowed; a broken notification channel must never fail a login.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// Auditor records security audit entries for anomalous session activity.
// *incident.Reporter satisfies it.
type Auditor interface {
	Report(incidentType string, severity incident.Severity, rctx incident.ReportContext)
}

// Tracker evaluates newly created sessions against the user's existing
// live sessions. It is a heuristic signal source, never an enforcement
// point: it notifies and audits, it does not lock anyone out.
type Tracker struct {
	store    Store
	notifier Notifier
	auditor  Auditor
	logger   *slog.Logger
	clock    Clock
	metrics  *instrumentation.Metrics
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewTracker creates a tracker. notifier and auditor may be nil when the
// corresponding channel is not wired; detection still runs and logs.
func NewTracker(store Store, notifier Notifier, auditor Auditor, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    store,
		notifier: notifier,
		auditor:  auditor,
		logger:   logger,
		clock:    systemClock{},
	}
}

// SetClock overrides the time source (tests only).
func (t *Tracker) SetClock(c Clock) { t.clock = c }

// SetMetrics wires the anomaly counter.
func (t *Tracker) SetMetrics(m *instrumentation.Metrics) { t.metrics = m }

// OnSessionCreated compares the new session against the user's other live
// sessions. A live session counts as concurrent when it differs from the
// new one in IP or browser; the new session is a new location when its IP
// matches none of them. Concurrent activity from a differing browser
// triggers a high-priority notification plus an audit entry; a new
// location on the same browser triggers only a low-priority notification.
func (t *Tracker) OnSessionCreated(ctx context.Context, sess *Session) (Anomaly, error) {
	now := t.clock.Now()
	existing, err := t.store.ListActiveSessions(ctx, sess.UserID, now)
	if err != nil {
		return Anomaly{}, fmt.Errorf("list active sessions: %w", err)
	}

	anomaly := Anomaly{IsNewLocation: true}
	others := 0
	differingDevice := false
	for _, other := range existing {
		if other.TokenID == sess.TokenID {
			continue
		}
		others++
		if other.IPAddress == sess.IPAddress {
			anomaly.IsNewLocation = false
		}
		if other.Browser != sess.Browser {
			differingDevice = true
		}
		if other.IPAddress != sess.IPAddress || other.Browser != sess.Browser {
			anomaly.ConcurrentSessionCount++
		}
	}
	if others == 0 {
		// First session: there is no prior location to be new relative to.
		anomaly.IsNewLocation = false
	}

	switch {
	case differingDevice:
		if t.metrics != nil {
			t.metrics.RecordSessionAnomaly(ctx, "concurrent_device")
		}
		t.notify(ctx, sess.UserID, Notification{
			Priority: PriorityHigh,
			Title:    "New sign-in on another device",
			Body: fmt.Sprintf("A new sign-in from %s on %s was detected while %d other session(s) are active. If this wasn't you, revoke your other sessions.",
				sess.Browser, sess.OS, anomaly.ConcurrentSessionCount),
		})
		t.audit(sess, anomaly)
	case anomaly.IsNewLocation:
		if t.metrics != nil {
			t.metrics.RecordSessionAnomaly(ctx, "new_location")
		}
		t.notify(ctx, sess.UserID, Notification{
			Priority: PriorityLow,
			Title:    "Sign-in from a new location",
			Body:     fmt.Sprintf("Your account was accessed from a new network location using %s on %s.", sess.Browser, sess.OS),
		})
	}
	return anomaly, nil
}

func (t *Tracker) notify(ctx context.Context, userID string, n Notification) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, userID, n); err != nil {
		t.logger.Warn("session notification failed",
			"user_id", userID, "priority", n.Priority.String(), "error", err)
	}
}

func (t *Tracker) audit(sess *Session, anomaly Anomaly) {
	if t.auditor == nil {
		return
	}
	t.auditor.Report(incident.TypeConcurrentSessions, incident.SeverityMedium, incident.ReportContext{
		UserAgent: sess.Browser + " on " + sess.OS,
		Network:   security.ClientNetwork{IP: sess.IPAddress},
		UserID:    sess.UserID,
		Details: map[string]any{
			"concurrentSessions": anomaly.ConcurrentSessionCount,
			"newLocation":        anomaly.IsNewLocation,
			"device":             sess.Device,
		},
	})
}
