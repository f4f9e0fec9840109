package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgegate/edgegate/instrumentation"
)

// ClientMeta is the optional client identification persisted alongside a
// durable rate-limit row for later investigation.
type ClientMeta struct {
	IP          string
	Fingerprint string
	CookieID    string
}

// StoreResult is what a backing store reports after an atomic
// check-and-increment.
type StoreResult struct {
	Allowed     bool
	Count       int
	WindowStart time.Time
	IsNewWindow bool
}

// Store is the persistence port for the atomic limiter. Implementations
// must guarantee that under concurrent invocation with the same identifier
// no more than limit increments succeed within one window, either by
// wrapping read-check-increment in a serializable transaction or by issuing
// a single atomic conditional update.
type Store interface {
	CheckAndIncrement(ctx context.Context, identifier string, limit int, window time.Duration, meta ClientMeta) (*StoreResult, error)
}

// Result is the outcome of an atomic limiter check.
type Result struct {
	Allowed     bool
	Remaining   int
	ResetIn     time.Duration
	IsNewWindow bool

	// FailedOpen reports that the backing store errored and the request
	// was allowed by policy rather than by counting.
	FailedOpen bool
}

// AtomicLimiter enforces exact, cross-instance-consistent limits through a
// transactional store. It is used where global correctness matters more
// than latency, such as login attempt counting.
//
// On any unexpected store error the limiter fails open: legitimate traffic
// is not blocked because of an infrastructure fault. This is a deliberate,
// documented tradeoff; operators monitor the fail-open counter instead.
type AtomicLimiter struct {
	store   Store
	clock   Clock
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewAtomicLimiter creates an atomic limiter over the given store.
func NewAtomicLimiter(store Store, logger *slog.Logger) *AtomicLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AtomicLimiter{store: store, clock: SystemClock(), logger: logger}
}

// SetClock overrides the time source (tests only).
func (l *AtomicLimiter) SetClock(c Clock) { l.clock = c }

// SetMetrics wires the fail-open counter.
func (l *AtomicLimiter) SetMetrics(m *instrumentation.Metrics) { l.metrics = m }

// CheckAndIncrement atomically counts one request for identifier and
// reports whether it is within the limit for the current window.
func (l *AtomicLimiter) CheckAndIncrement(ctx context.Context, identifier string, limit int, window time.Duration, meta ClientMeta) Result {
	res, err := l.store.CheckAndIncrement(ctx, identifier, limit, window, meta)
	if err != nil {
		l.logger.Warn("rate limit store error, failing open",
			"identifier", identifier, "error", err)
		if l.metrics != nil {
			l.metrics.RecordRateLimitFailOpen(ctx)
		}
		return Result{Allowed: true, Remaining: 0, FailedOpen: true}
	}

	remaining := limit - res.Count
	if remaining < 0 {
		remaining = 0
	}
	resetIn := res.WindowStart.Add(window).Sub(l.clock.Now())
	if resetIn < 0 {
		resetIn = 0
	}

	return Result{
		Allowed:     res.Allowed,
		Remaining:   remaining,
		ResetIn:     resetIn,
		IsNewWindow: res.IsNewWindow,
	}
}
