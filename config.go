package edgegate

import (
	"fmt"
	"log/slog"

	"github.com/edgegate/edgegate/fieldcrypt"
	"github.com/edgegate/edgegate/ratelimit"
)

// Config holds the gateway configuration.
type Config struct {
	// Environment is "development" or "production". Production tightens
	// defaults: HSTS on, internal API secret required.
	Environment string

	// MasterSecret is the field encryption master secret. Required when
	// field encryption is used; minimum length is enforced by fieldcrypt.
	MasterSecret string

	// IPHashSalt salts the privacy-preserving client identifier hashes.
	// It should be stable across instances so incidents correlate.
	IPHashSalt string

	// TrustProxy enables trusting X-Forwarded-For, X-Real-IP, and the
	// upstream geolocation headers. Only enable behind a trusted reverse
	// proxy.
	TrustProxy bool

	// TrustedProxyCount is how many proxies to trust from the right of
	// X-Forwarded-For. Zero means one.
	TrustedProxyCount int

	// AllowedOrigins is the CORS allow-list. Origins are matched exactly.
	AllowedOrigins []string

	// PolicyVersion is exposed on every response so operators can
	// correlate behavior changes with policy rollouts.
	PolicyVersion string

	// EnableHSTS controls Strict-Transport-Security. Defaults to true in
	// production.
	EnableHSTS bool

	// RoutePolicies overrides the per-class rate limits. Nil uses
	// ratelimit.DefaultPolicies.
	RoutePolicies map[ratelimit.RouteClass]ratelimit.RoutePolicy

	// IncidentSharedSecret authenticates internal incident ingestion.
	// Required in production when the ingest endpoint is served.
	IncidentSharedSecret string

	// SignaturesPath optionally points at a YAML signature file for the
	// pattern guard; empty uses the built-in defaults.
	SignaturesPath string

	// Logger for structured logging. Nil uses slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns a development-oriented configuration.
func DefaultConfig() Config {
	return Config{
		Environment:   "development",
		PolicyVersion: "1",
	}
}

// IsProduction reports whether the production environment is configured.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks the configuration for misconfigurations that would
// weaken the gateway silently.
func (c *Config) Validate() error {
	if c.Environment != "" && c.Environment != "development" && c.Environment != "production" {
		return fmt.Errorf("invalid environment %q", c.Environment)
	}
	if c.MasterSecret != "" && len(c.MasterSecret) < fieldcrypt.MinMasterSecretLen {
		return fmt.Errorf("master secret must be at least %d bytes", fieldcrypt.MinMasterSecretLen)
	}
	if c.IsProduction() {
		if c.IPHashSalt == "" {
			return fmt.Errorf("ip hash salt is required in production")
		}
		if !c.TrustProxy && c.TrustedProxyCount > 0 {
			return fmt.Errorf("trusted proxy count set without proxy trust enabled")
		}
	}
	if c.TrustedProxyCount < 0 {
		return fmt.Errorf("trusted proxy count must not be negative")
	}
	for class, policy := range c.RoutePolicies {
		if policy.Limit <= 0 || policy.Window <= 0 {
			return fmt.Errorf("route policy for class %q must have positive limit and window", class)
		}
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) policies() map[ratelimit.RouteClass]ratelimit.RoutePolicy {
	if c.RoutePolicies != nil {
		return c.RoutePolicies
	}
	return ratelimit.DefaultPolicies()
}
