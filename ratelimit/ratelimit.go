// Package ratelimit provides the two rate-limiting implementations used at
// the edge: a fast, approximate, instance-local sliding-window limiter with
// escalating temporary bans, and a durable limiter whose counters are
// enforced atomically by a transactional backing store.
//
// The two implementations reflect a deliberate tradeoff, not duplication:
// the in-memory limiter trades cross-instance accuracy for near-zero
// latency, while the atomic limiter trades latency for exact global limits
// on operations like login attempts. Call sites pick per the consistency
// guarantee they need.
package ratelimit

import "time"

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// RetryAfter is how long the client should wait before retrying.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// Blocked reports that the denial comes from an escalated temporary
	// ban rather than an exhausted window.
	Blocked bool
}

// Limiter is the capability interface shared by both implementations, so
// tests can target the interface and call sites can swap implementations.
type Limiter interface {
	Check(key string, limit int, window time.Duration) Decision
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
