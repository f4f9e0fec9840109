// Package incident assembles, ships, and aggregates security incident
// telemetry. Reporting is fire-and-forget: detection sites enqueue an
// incident and continue; a background dispatcher delivers it to a
// persistence sink. Incident logging must never fail the request that
// triggered it.
package incident

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks an incident for triage and alerting.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the canonical upper-case severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity maps a severity name back to its value. Unknown names map
// to SeverityLow so a malformed ingest payload degrades instead of failing.
func ParseSeverity(name string) Severity {
	switch name {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// RiskScore is the fixed, deterministic severity-to-score mapping used for
// dashboard ranking: CRITICAL 100, HIGH 75, MEDIUM 50, LOW 25.
func (s Severity) RiskScore() int {
	switch s {
	case SeverityCritical:
		return 100
	case SeverityHigh:
		return 75
	case SeverityMedium:
		return 50
	default:
		return 25
	}
}

// Incident type catalog. Constants keep detection sites consistent and
// make dashboard grouping reliable.
const (
	TypeHoneypotHit        = "honeypot_hit"
	TypeMaliciousURL       = "malicious_url"
	TypeSuspiciousIdentity = "suspicious_identity"
	TypeRateLimitExceeded  = "rate_limit_exceeded"
	TypeRateLimitBlock     = "rate_limit_block"
	TypeLoginAnomaly       = "login_anomaly"
	TypeConcurrentSessions = "concurrent_sessions"
	TypeIngestAuthFailure  = "ingest_auth_failure"
)

// Incident is one security-relevant event. Records are append-only: the
// only mutation after creation is an operator resolving the incident.
type Incident struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Severity   Severity       `json:"severity"`
	RiskScore  int            `json:"riskScore"`
	IPHash     string         `json:"ipHash"`
	Path       string         `json:"path"`
	UserAgent  string         `json:"userAgent"`
	UserID     string         `json:"userId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
	ResolvedBy string         `json:"resolvedBy,omitempty"`
	Resolution string         `json:"resolution,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// NewIncident creates an incident with a fresh ID, the deterministic risk
// score for its severity, and the given creation time.
func NewIncident(incidentType string, severity Severity, createdAt time.Time) *Incident {
	return &Incident{
		ID:        uuid.NewString(),
		Type:      incidentType,
		Severity:  severity,
		RiskScore: severity.RiskScore(),
		CreatedAt: createdAt,
	}
}
