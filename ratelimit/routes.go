package ratelimit

import (
	"strings"
	"time"
)

// RouteClass partitions rate-limit keys by route sensitivity so one noisy
// class cannot exhaust another's budget.
type RouteClass int

const (
	// ClassAPI is the default class for generic API traffic.
	ClassAPI RouteClass = iota

	// ClassAuth covers authentication endpoints, which get the tightest
	// limits.
	ClassAuth

	// ClassAdmin covers bulk and admin endpoints.
	ClassAdmin
)

// String returns the class name used in rate-limit keys and log fields.
func (c RouteClass) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassAdmin:
		return "admin"
	default:
		return "api"
	}
}

// RoutePolicy is the per-class limit tuning.
type RoutePolicy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies returns the per-class limits: authentication tightest,
// admin/bulk looser, generic API the default budget.
func DefaultPolicies() map[RouteClass]RoutePolicy {
	return map[RouteClass]RoutePolicy{
		ClassAuth:  {Limit: 10, Window: time.Minute},
		ClassAdmin: {Limit: 30, Window: time.Minute},
		ClassAPI:   {Limit: 100, Window: time.Minute},
	}
}

// ClassifyRoute maps a request path to its sensitivity class.
func ClassifyRoute(path string) RouteClass {
	p := strings.ToLower(path)
	switch {
	case strings.HasPrefix(p, "/auth/"),
		strings.HasPrefix(p, "/api/auth/"),
		strings.HasSuffix(p, "/login"),
		strings.HasSuffix(p, "/register"),
		strings.HasSuffix(p, "/password-reset"):
		return ClassAuth
	case strings.HasPrefix(p, "/admin/"),
		strings.HasPrefix(p, "/api/admin/"),
		strings.Contains(p, "/bulk"):
		return ClassAdmin
	default:
		return ClassAPI
	}
}

// Key builds the limiter key for a client identity within this class.
// Partitioning by class keeps an offender's auth budget separate from
// their API budget.
func (c RouteClass) Key(clientIdentity string) string {
	return clientIdentity + ":" + c.String()
}
