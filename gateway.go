package edgegate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/edgegate/edgegate/guard"
	"github.com/edgegate/edgegate/incident"
	"github.com/edgegate/edgegate/instrumentation"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/security"
)

// Gateway is the edge middleware chain: request classification, in-memory
// rate limiting partitioned by route class, and security header injection.
// Positive classifications and limit violations are escalated to the
// incident reporter; the reporter is fire-and-forget, so the request path
// never waits on it.
type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	policies map[ratelimit.RouteClass]ratelimit.RoutePolicy

	classifier *guard.Classifier
	limiter    *ratelimit.MemoryLimiter
	headers    *security.HeaderPolicy
	hasher     *security.IPHasher
	reporter   *incident.Reporter
	metrics    *instrumentation.Metrics
	tracer     trace.Tracer

	notFound http.Handler
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithReporter wires the incident reporter. Without it, detections are
// logged but not persisted.
func WithReporter(r *incident.Reporter) GatewayOption {
	return func(g *Gateway) { g.reporter = r }
}

// WithClassifier replaces the default classifier, for custom or hot-reloaded
// signature sets.
func WithClassifier(c *guard.Classifier) GatewayOption {
	return func(g *Gateway) { g.classifier = c }
}

// WithLimiter replaces the default in-memory limiter.
func WithLimiter(l *ratelimit.MemoryLimiter) GatewayOption {
	return func(g *Gateway) { g.limiter = l }
}

// WithInstrumentation wires metric recording and per-request spans.
func WithInstrumentation(inst *instrumentation.Instrumentation) GatewayOption {
	return func(g *Gateway) {
		g.metrics = inst.Metrics()
		g.tracer = inst.Tracer("gateway")
	}
}

// WithNotFoundHandler replaces the response served for honeypot hits. It
// must be the same handler the application serves for genuinely unknown
// routes, or decoys become distinguishable.
func WithNotFoundHandler(h http.Handler) GatewayOption {
	return func(g *Gateway) { g.notFound = h }
}

// NewGateway creates a gateway from the configuration.
func NewGateway(cfg Config, opts ...GatewayOption) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	g := &Gateway{
		cfg:      cfg,
		logger:   cfg.logger(),
		policies: cfg.policies(),
		hasher:   security.NewIPHasher(cfg.IPHashSalt),
		notFound: NotFoundHandler(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.classifier == nil {
		g.classifier = guard.NewClassifier()
		if cfg.SignaturesPath != "" {
			sigs, err := guard.LoadSignatures(cfg.SignaturesPath)
			if err != nil {
				return nil, fmt.Errorf("load signatures: %w", err)
			}
			g.classifier.Reload(sigs)
		}
	}
	if g.limiter == nil {
		g.limiter = ratelimit.NewMemoryLimiter(g.logger)
	}
	g.headers = security.NewHeaderPolicy(security.HeaderPolicyConfig{
		PolicyVersion: cfg.PolicyVersion,
		EnableHSTS:    cfg.EnableHSTS || cfg.IsProduction(),
	})
	return g, nil
}

// Close stops background work owned by the gateway.
func (g *Gateway) Close() {
	g.limiter.Stop()
}

// Limiter exposes the in-memory limiter, primarily for gauge registration.
func (g *Gateway) Limiter() *ratelimit.MemoryLimiter {
	return g.limiter
}

// Middleware returns the gateway as a middleware wrapping next. The
// request ID and the security header bundle go on first so every response,
// short-circuit rejections included, carries them. Then classification
// fast-reject, then rate limiting by route class.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return security.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		class := ratelimit.ClassifyRoute(r.URL.Path)

		var span trace.Span
		if g.tracer != nil {
			var ctx context.Context
			ctx, span = g.tracer.Start(r.Context(), "gateway.request")
			defer span.End()
			r = r.WithContext(ctx)
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		r = g.headers.Apply(sw, r)
		defer func() {
			if g.metrics != nil {
				g.metrics.RecordRequest(r.Context(), r.Method, class.String(),
					sw.status, float64(time.Since(start))/float64(time.Millisecond))
			}
		}()

		cl := g.classifier.Classify(r.URL.Path, r.URL.RawQuery, r.UserAgent())
		instrumentation.AddGatewayAttributes(span, class.String(), cl.Verdict().String(), cl.MatchedPattern)
		instrumentation.AddOriginAttributes(span,
			g.hasher.HashPrefix(security.GetClientIP(r, g.cfg.TrustProxy, g.cfg.TrustedProxyCount)))

		switch {
		case cl.Honeypot:
			instrumentation.AddIncidentAttributes(span, incident.TypeHoneypotHit, incident.SeverityCritical.String())
			instrumentation.SetSpanError(span, "honeypot path probed")
			g.handleHoneypot(sw, r, cl)
			return
		case cl.Blocked:
			instrumentation.AddIncidentAttributes(span, incident.TypeMaliciousURL, incident.SeverityHigh.String())
			instrumentation.SetSpanError(span, "malicious request signature")
			g.handleMaliciousURL(sw, r, cl)
			return
		case cl.Suspicious:
			// Suspicious identity alone never rejects; it is recorded and
			// the request continues.
			g.report(incident.TypeSuspiciousIdentity, incident.SeverityMedium, r, cl.MatchedPattern, nil)
			if g.metrics != nil {
				g.metrics.RecordSuspiciousClient(r.Context())
			}
		}

		if !g.checkRateLimit(sw, r, class, span) {
			return
		}

		instrumentation.SetSpanSuccess(span)
		next.ServeHTTP(sw, r)
	}))
}

// statusWriter captures the status code written downstream so the request
// metric can carry it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// handleHoneypot serves the canonical not-found response for a decoy
// probe. The attacker sees an ordinary miss; the incident records the
// truth.
func (g *Gateway) handleHoneypot(w http.ResponseWriter, r *http.Request, cl guard.Classification) {
	g.report(incident.TypeHoneypotHit, incident.SeverityCritical, r, cl.MatchedPattern, nil)
	if g.metrics != nil {
		g.metrics.RecordHoneypotHit(r.Context(), cl.MatchedPattern)
		g.metrics.RecordRequestBlocked(r.Context(), "honeypot")
	}
	g.logger.Warn("honeypot path probed",
		"path", r.URL.Path,
		"ip_hash", g.hasher.HashPrefix(security.GetClientIP(r, g.cfg.TrustProxy, g.cfg.TrustedProxyCount)))

	g.notFound.ServeHTTP(w, r)
}

// handleMaliciousURL hard-rejects with a generic client error. The
// matched pattern is never echoed back.
func (g *Gateway) handleMaliciousURL(w http.ResponseWriter, r *http.Request, cl guard.Classification) {
	g.report(incident.TypeMaliciousURL, incident.SeverityHigh, r, cl.MatchedPattern, nil)
	if g.metrics != nil {
		g.metrics.RecordRequestBlocked(r.Context(), "malicious_url")
	}
	WriteError(w, ErrBadRequest("invalid request"))
}

// checkRateLimit applies the per-class in-memory limit. It reports false
// after writing the 429 when the request is over budget.
func (g *Gateway) checkRateLimit(w http.ResponseWriter, r *http.Request, class ratelimit.RouteClass, span trace.Span) bool {
	policy, ok := g.policies[class]
	if !ok {
		policy = ratelimit.DefaultPolicies()[class]
	}

	identity := g.hasher.Hash(security.GetClientIP(r, g.cfg.TrustProxy, g.cfg.TrustedProxyCount))
	decision := g.limiter.Check(class.Key(identity), policy.Limit, policy.Window)
	if decision.Allowed {
		return true
	}

	blocked := decision.Blocked
	if blocked {
		instrumentation.SetSpanError(span, "rate limit block active")
		g.report(incident.TypeRateLimitBlock, incident.SeverityHigh, r, "", map[string]any{
			"routeClass": class.String(),
			"blockedFor": decision.RetryAfter.String(),
		})
	} else {
		instrumentation.SetSpanError(span, "rate limit exceeded")
		g.report(incident.TypeRateLimitExceeded, incident.SeverityMedium, r, "", map[string]any{
			"routeClass": class.String(),
		})
	}
	if g.metrics != nil {
		g.metrics.RecordRateLimitExceeded(r.Context(), class.String())
		if blocked {
			g.metrics.RecordRateLimitBlock(r.Context(), class.String())
			g.metrics.RecordRequestBlocked(r.Context(), "rate_limit_block")
		} else {
			g.metrics.RecordRequestBlocked(r.Context(), "rate_limit")
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	WriteError(w, ErrTooManyRequests())
	return false
}

// report escalates a detection to the incident reporter, if one is wired.
func (g *Gateway) report(incidentType string, severity incident.Severity, r *http.Request, matchedPattern string, details map[string]any) {
	if g.reporter == nil {
		return
	}
	rctx := incident.ContextFromRequest(r, g.cfg.TrustProxy, g.cfg.TrustedProxyCount)
	rctx.MatchedPattern = matchedPattern
	rctx.Details = details
	g.reporter.Report(incidentType, severity, rctx)
}

// retryAfterSeconds renders a duration as whole seconds, rounded up so a
// client honoring the header never retries early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
