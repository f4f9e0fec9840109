package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the edgegate library.
type Metrics struct {
	// Gateway metrics
	RequestsTotal     metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	RequestsBlocked   metric.Int64Counter
	HoneypotHits      metric.Int64Counter
	SuspiciousClients metric.Int64Counter

	// Rate limiting metrics
	RateLimitExceeded      metric.Int64Counter
	RateLimitBlocks        metric.Int64Counter
	RateLimitFailOpen      metric.Int64Counter
	RateLimitActiveEntries metric.Int64ObservableGauge

	// Incident pipeline metrics
	IncidentsReported  metric.Int64Counter
	IncidentsDropped   metric.Int64Counter
	IncidentsDelivered metric.Int64Counter
	IncidentQueueDepth metric.Int64ObservableGauge

	// Field encryption metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram

	// Session metrics
	SessionAnomalies metric.Int64Counter

	// Storage metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	gatewayMeter := inst.Meter("gateway")
	securityMeter := inst.Meter("security")
	incidentMeter := inst.Meter("incident")
	storageMeter := inst.Meter("storage")

	var err error
	m.RequestsTotal, err = gatewayMeter.Int64Counter(
		"edgegate.requests.total",
		metric.WithDescription("Total number of requests seen by the gateway"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.total counter: %w", err)
	}

	m.RequestDuration, err = gatewayMeter.Float64Histogram(
		"edgegate.request.duration",
		metric.WithDescription("Gateway middleware chain duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request.duration histogram: %w", err)
	}

	m.RequestsBlocked, err = gatewayMeter.Int64Counter(
		"edgegate.requests.blocked",
		metric.WithDescription("Requests rejected by the gateway, by reason"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.blocked counter: %w", err)
	}

	m.HoneypotHits, err = gatewayMeter.Int64Counter(
		"edgegate.honeypot.hits",
		metric.WithDescription("Requests matching decoy paths"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create honeypot.hits counter: %w", err)
	}

	m.SuspiciousClients, err = gatewayMeter.Int64Counter(
		"edgegate.clients.suspicious",
		metric.WithDescription("Requests flagged for suspicious client identification"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clients.suspicious counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"edgegate.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.RateLimitBlocks, err = securityMeter.Int64Counter(
		"edgegate.rate_limit.blocks",
		metric.WithDescription("Temporary bans applied after repeated violations"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.blocks counter: %w", err)
	}

	m.RateLimitFailOpen, err = securityMeter.Int64Counter(
		"edgegate.rate_limit.fail_open",
		metric.WithDescription("Atomic limiter requests allowed because the store errored"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.fail_open counter: %w", err)
	}

	m.RateLimitActiveEntries, err = securityMeter.Int64ObservableGauge(
		"edgegate.rate_limit.active_entries",
		metric.WithDescription("Keys currently tracked by the in-memory limiter"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.active_entries gauge: %w", err)
	}

	m.IncidentsReported, err = incidentMeter.Int64Counter(
		"edgegate.incidents.reported",
		metric.WithDescription("Incidents accepted into the delivery queue"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create incidents.reported counter: %w", err)
	}

	m.IncidentsDropped, err = incidentMeter.Int64Counter(
		"edgegate.incidents.dropped",
		metric.WithDescription("Incidents dropped because the queue was full"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create incidents.dropped counter: %w", err)
	}

	m.IncidentsDelivered, err = incidentMeter.Int64Counter(
		"edgegate.incidents.delivered",
		metric.WithDescription("Incidents delivered to the sink, by result"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create incidents.delivered counter: %w", err)
	}

	m.IncidentQueueDepth, err = incidentMeter.Int64ObservableGauge(
		"edgegate.incidents.queue_depth",
		metric.WithDescription("Incidents currently waiting for delivery"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create incidents.queue_depth gauge: %w", err)
	}

	m.EncryptionOperationsTotal, err = securityMeter.Int64Counter(
		"edgegate.encryption.operations.total",
		metric.WithDescription("Total number of field encryption/decryption operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	m.EncryptionDuration, err = securityMeter.Float64Histogram(
		"edgegate.encryption.duration",
		metric.WithDescription("Field encryption/decryption duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.duration histogram: %w", err)
	}

	m.SessionAnomalies, err = securityMeter.Int64Counter(
		"edgegate.sessions.anomalies",
		metric.WithDescription("Session anomaly signals raised, by kind"),
		metric.WithUnit("{anomaly}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.anomalies counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"edgegate.storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"edgegate.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordRequest records one gateway request.
func (m *Metrics) RecordRequest(ctx context.Context, method, routeClass string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route_class", routeClass),
		attribute.Int("status", statusCode),
	}

	m.RequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("route_class", routeClass)))
}

// RecordRequestBlocked records a gateway rejection with its reason
// ("honeypot", "malicious_url", "rate_limit", "rate_limit_block").
func (m *Metrics) RecordRequestBlocked(ctx context.Context, reason string) {
	m.RequestsBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordHoneypotHit records a decoy path match.
func (m *Metrics) RecordHoneypotHit(ctx context.Context, pattern string) {
	m.HoneypotHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pattern", pattern),
	))
}

// RecordSuspiciousClient records a suspicious client identification match.
func (m *Metrics) RecordSuspiciousClient(ctx context.Context) {
	m.SuspiciousClients.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, routeClass string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route_class", routeClass),
	))
}

// RecordRateLimitBlock records a temporary ban being applied.
func (m *Metrics) RecordRateLimitBlock(ctx context.Context, routeClass string) {
	m.RateLimitBlocks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route_class", routeClass),
	))
}

// RecordRateLimitFailOpen records the atomic limiter allowing a request
// because its store errored.
func (m *Metrics) RecordRateLimitFailOpen(ctx context.Context) {
	m.RateLimitFailOpen.Add(ctx, 1)
}

// RecordIncidentReported records an incident entering the delivery queue.
func (m *Metrics) RecordIncidentReported(ctx context.Context, incidentType, severity string) {
	m.IncidentsReported.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", incidentType),
		attribute.String("severity", severity),
	))
}

// RecordIncidentDropped records an incident dropped on a full queue.
func (m *Metrics) RecordIncidentDropped(ctx context.Context, incidentType string) {
	m.IncidentsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", incidentType),
	))
}

// RecordIncidentDelivered records a delivery attempt outcome.
func (m *Metrics) RecordIncidentDelivered(ctx context.Context, success bool) {
	m.IncidentsDelivered.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordEncryptionOperation records an encryption or decryption.
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
	}

	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))
}

// RecordSessionAnomaly records a session anomaly signal
// ("concurrent_device" or "new_location").
func (m *Metrics) RecordSessionAnomaly(ctx context.Context, kind string) {
	m.SessionAnomalies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordStorageOperation records a storage operation.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
