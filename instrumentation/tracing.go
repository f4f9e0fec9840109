package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never put raw client IPs, master secrets, plaintext field values, or the
// internal shared secret into span attributes. Traces are persisted,
// replicated, and visible to wider audiences than the request path; only
// hashed origins and metadata belong here.
const (
	// Gateway attributes
	AttrRouteClass     = "gateway.route_class"
	AttrVerdict        = "gateway.verdict"
	AttrMatchedPattern = "gateway.matched_pattern"
	AttrIPHashPrefix   = "gateway.ip_hash_prefix"

	// Incident attributes
	AttrIncidentType     = "incident.type"
	AttrIncidentSeverity = "incident.severity"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageBackend   = "storage.backend"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGatewayAttributes adds classification attributes to a span (nil-safe).
func AddGatewayAttributes(span trace.Span, routeClass, verdict, matchedPattern string) {
	SetSpanAttributes(span,
		attribute.String(AttrRouteClass, routeClass),
		attribute.String(AttrVerdict, verdict),
	)
	if matchedPattern != "" {
		SetSpanAttributes(span, attribute.String(AttrMatchedPattern, matchedPattern))
	}
}

// AddIncidentAttributes adds incident attributes to a span (nil-safe).
func AddIncidentAttributes(span trace.Span, incidentType, severity string) {
	SetSpanAttributes(span,
		attribute.String(AttrIncidentType, incidentType),
		attribute.String(AttrIncidentSeverity, severity),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe).
func AddStorageAttributes(span trace.Span, operation, backend string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageBackend, backend),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddOriginAttributes adds the hashed origin to a span (nil-safe). Callers
// pass the hash prefix from security.IPHasher, never a raw address.
func AddOriginAttributes(span trace.Span, ipHashPrefix string) {
	if ipHashPrefix != "" {
		SetSpanAttributes(span, attribute.String(AttrIPHashPrefix, ipHashPrefix))
	}
}
