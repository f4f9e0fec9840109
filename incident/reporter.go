package incident

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgegate/edgegate/instrumentation"
	"github.com/edgegate/edgegate/security"
)

const (
	// DefaultQueueSize bounds the local delivery queue. Incidents beyond
	// it are dropped and counted; there is no disk spill.
	DefaultQueueSize = 256

	// DefaultDeliveryTimeout bounds one sink delivery attempt.
	DefaultDeliveryTimeout = 5 * time.Second

	// RepeatThreshold and RepeatWindow define the repeated-incident alert:
	// this many incidents of one type from one origin within the window
	// trigger a higher-visibility alert.
	RepeatThreshold = 10
	RepeatWindow    = 60 * time.Second
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ReporterConfig tunes a Reporter.
type ReporterConfig struct {
	QueueSize       int
	DeliveryTimeout time.Duration

	// Metrics records pipeline counters when set.
	Metrics *instrumentation.Metrics

	// Clock overrides the time source (tests only).
	Clock Clock
}

// repeatEntry counts incidents of one type from one origin.
type repeatEntry struct {
	count int
	first time.Time
}

// Reporter assembles incidents and ships them asynchronously. Report never
// blocks and never fails the caller: a full queue drops the incident with
// a counter bump, and delivery failures are logged once and swallowed.
type Reporter struct {
	sink    Sink
	hasher  *security.IPHasher
	logger  *slog.Logger
	clock   Clock
	cfg     ReporterConfig
	metrics *instrumentation.Metrics

	queue chan *Incident
	wg    sync.WaitGroup

	repeatMu sync.Mutex
	repeats  map[string]*repeatEntry

	// alertLimiter damps escalated alert logging so a flood of repeated
	// incidents cannot itself flood the logs.
	alertLimiter *rate.Limiter

	statsMu   sync.Mutex
	reported  int64
	dropped   int64
	delivered int64
	failed    int64
}

// NewReporter creates a reporter delivering to sink. The hasher is used to
// produce the privacy-preserving origin identifier stored in incidents.
func NewReporter(sink Sink, hasher *security.IPHasher, logger *slog.Logger) *Reporter {
	return NewReporterWithConfig(sink, hasher, ReporterConfig{}, logger)
}

// NewReporterWithConfig creates a reporter with custom tuning.
func NewReporterWithConfig(sink Sink, hasher *security.IPHasher, cfg ReporterConfig, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}

	r := &Reporter{
		sink:         sink,
		hasher:       hasher,
		logger:       logger,
		clock:        cfg.Clock,
		cfg:          cfg,
		metrics:      cfg.Metrics,
		queue:        make(chan *Incident, cfg.QueueSize),
		repeats:      make(map[string]*repeatEntry),
		alertLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	r.wg.Add(1)
	go r.dispatch()
	return r
}

// Report builds an incident from the context and enqueues it for delivery.
// It returns immediately; the caller's request path never awaits delivery.
func (r *Reporter) Report(incidentType string, severity Severity, rctx ReportContext) {
	now := r.clock.Now()
	inc := NewIncident(incidentType, severity, now)
	inc.IPHash = r.hasher.Hash(rctx.Network.IP)
	inc.Path = rctx.Path
	inc.UserAgent = rctx.UserAgent
	inc.UserID = rctx.UserID
	inc.Details = r.buildDetails(rctx)

	r.trackRepeat(inc, now)

	select {
	case r.queue <- inc:
		r.statsMu.Lock()
		r.reported++
		r.statsMu.Unlock()
		if r.metrics != nil {
			r.metrics.RecordIncidentReported(context.Background(), inc.Type, inc.Severity.String())
		}
	default:
		r.statsMu.Lock()
		r.dropped++
		r.statsMu.Unlock()
		if r.metrics != nil {
			r.metrics.RecordIncidentDropped(context.Background(), inc.Type)
		}
		r.logger.Warn("incident queue full, dropping incident",
			"type", incidentType, "severity", severity.String())
	}
}

// buildDetails merges the structured telemetry record.
func (r *Reporter) buildDetails(rctx ReportContext) map[string]any {
	details := map[string]any{
		"method":   rctx.Method,
		"protocol": rctx.Proto,
	}
	if rctx.Query != "" {
		details["query"] = rctx.Query
	}
	if rctx.Referrer != "" {
		details["referrer"] = rctx.Referrer
	}
	if rctx.Origin != "" {
		details["origin"] = rctx.Origin
	}
	if rctx.AcceptLanguage != "" {
		details["acceptLanguage"] = rctx.AcceptLanguage
	}
	if rctx.RequestID != "" {
		details["requestId"] = rctx.RequestID
	}
	if rctx.MatchedPattern != "" {
		details["matchedPattern"] = rctx.MatchedPattern
	}
	if rctx.Network.Country != "" {
		details["geo"] = map[string]string{
			"country": rctx.Network.Country,
			"region":  rctx.Network.Region,
			"city":    rctx.Network.City,
		}
	}
	if rctx.Network.ASN != "" {
		details["asn"] = rctx.Network.ASN
	}
	for k, v := range rctx.Details {
		details[k] = v
	}
	return details
}

// trackRepeat counts same-type incidents from the same origin within the
// trailing window and escalates visibility when the threshold is crossed.
func (r *Reporter) trackRepeat(inc *Incident, now time.Time) {
	key := inc.Type + "|" + inc.IPHash

	r.repeatMu.Lock()
	entry, ok := r.repeats[key]
	if !ok || now.Sub(entry.first) > RepeatWindow {
		entry = &repeatEntry{first: now}
		r.repeats[key] = entry
	}
	entry.count++
	count := entry.count

	// Opportunistic purge keeps the map from accumulating dead origins.
	if len(r.repeats) > 4096 {
		for k, e := range r.repeats {
			if now.Sub(e.first) > RepeatWindow {
				delete(r.repeats, k)
			}
		}
	}
	r.repeatMu.Unlock()

	if count >= RepeatThreshold && r.alertLimiter.Allow() {
		r.logger.Error("repeated security incidents from one origin",
			"type", inc.Type,
			"ip_hash", inc.IPHash,
			"count", count,
			"window", RepeatWindow)
	}
}

// dispatch is the background delivery loop.
func (r *Reporter) dispatch() {
	defer r.wg.Done()
	for inc := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DeliveryTimeout)
		err := r.sink.Deliver(ctx, inc)
		cancel()

		if r.metrics != nil {
			r.metrics.RecordIncidentDelivered(context.Background(), err == nil)
		}

		r.statsMu.Lock()
		if err != nil {
			r.failed++
		} else {
			r.delivered++
		}
		r.statsMu.Unlock()

		if err != nil {
			// Logged once, never retried synchronously, never surfaced to
			// the request that triggered the incident.
			r.logger.Warn("incident delivery failed",
				"type", inc.Type, "severity", inc.Severity.String(), "error", err)
		}
	}
}

// Close stops accepting incidents and waits for the queue to drain, or for
// ctx to expire, whichever comes first.
func (r *Reporter) Close(ctx context.Context) error {
	close(r.queue)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReporterStats reports delivery counters for monitoring.
type ReporterStats struct {
	Reported  int64
	Delivered int64
	Dropped   int64
	Failed    int64
	QueueLen  int
}

// Stats returns current reporter statistics.
func (r *Reporter) Stats() ReporterStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return ReporterStats{
		Reported:  r.reported,
		Delivered: r.delivered,
		Dropped:   r.dropped,
		Failed:    r.failed,
		QueueLen:  len(r.queue),
	}
}
