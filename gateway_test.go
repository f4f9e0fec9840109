package edgegate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/edgegate/edgegate/incident"
	"github.com/edgegate/edgegate/instrumentation"
	"github.com/edgegate/edgegate/internal/testutil"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/security"
)

// chanSink forwards every delivered incident onto a channel so tests can
// wait for asynchronous delivery.
type chanSink struct {
	ch chan *incident.Incident
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *incident.Incident, 16)}
}

func (s *chanSink) Deliver(ctx context.Context, inc *incident.Incident) error {
	s.ch <- inc
	return nil
}

func (s *chanSink) wait(t *testing.T) *incident.Incident {
	t.Helper()
	select {
	case inc := <-s.ch:
		return inc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for incident delivery")
		return nil
	}
}

func (s *chanSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case inc := <-s.ch:
		t.Fatalf("unexpected incident %s", inc.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

type testGateway struct {
	gw   *Gateway
	sink *chanSink
}

func newTestGateway(t *testing.T, cfg Config, opts ...GatewayOption) *testGateway {
	t.Helper()
	sink := newChanSink()
	reporter := incident.NewReporter(sink, security.NewIPHasher("test-salt"), testutil.DiscardLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reporter.Close(ctx)
	})

	cfg.Logger = testutil.DiscardLogger()
	gw, err := NewGateway(cfg, append([]GatewayOption{WithReporter(reporter)}, opts...)...)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	t.Cleanup(gw.Close)
	return &testGateway{gw: gw, sink: sink}
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, path string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGatewayHoneypotLooksLikeOrdinaryNotFound(t *testing.T) {
	tg := newTestGateway(t, DefaultConfig())
	var called bool
	h := tg.gw.Middleware(okHandler(&called))

	// The reference response: a genuinely unknown route served through the
	// full chain.
	miss := doRequest(tg.gw.Middleware(NotFoundHandler()), "/no-such-route")
	decoy := doRequest(h, "/wp-admin")

	if called {
		t.Fatal("handler behind the gateway ran for a decoy path")
	}
	if decoy.Code != http.StatusNotFound || miss.Code != http.StatusNotFound {
		t.Fatalf("status = %d (decoy), %d (miss), want 404 for both", decoy.Code, miss.Code)
	}
	if decoy.Body.String() != miss.Body.String() {
		t.Errorf("decoy body %q differs from ordinary miss %q", decoy.Body.String(), miss.Body.String())
	}
	if got, want := decoy.Header().Get("Content-Type"), miss.Header().Get("Content-Type"); got != want {
		t.Errorf("decoy Content-Type = %q, miss = %q", got, want)
	}
	if decoy.Header().Get("X-Frame-Options") != miss.Header().Get("X-Frame-Options") {
		t.Error("security header bundle differs between decoy and ordinary miss")
	}

	inc := tg.sink.wait(t)
	if inc.Type != incident.TypeHoneypotHit {
		t.Errorf("incident type = %q, want %q", inc.Type, incident.TypeHoneypotHit)
	}
	if inc.Severity != incident.SeverityCritical {
		t.Errorf("severity = %v, want critical", inc.Severity)
	}
	if inc.Path != "/wp-admin" {
		t.Errorf("incident path = %q", inc.Path)
	}
	if inc.Details["matchedPattern"] != "/wp-admin" {
		t.Errorf("matchedPattern = %v", inc.Details["matchedPattern"])
	}
}

func TestGatewayMaliciousURLRejectedGenerically(t *testing.T) {
	tg := newTestGateway(t, DefaultConfig())
	var called bool
	h := tg.gw.Middleware(okHandler(&called))

	w := doRequest(h, "/api/items?q=1+union+select+password")

	if called {
		t.Fatal("handler ran for a blocked request")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != ErrorCodeBadRequest {
		t.Errorf("error code = %q", body.Error)
	}
	// The matched signature must never leak into the response.
	if body.Message != "invalid request" {
		t.Errorf("message = %q, want generic", body.Message)
	}

	inc := tg.sink.wait(t)
	if inc.Type != incident.TypeMaliciousURL || inc.Severity != incident.SeverityHigh {
		t.Errorf("incident = %s/%s, want malicious_url/HIGH", inc.Type, inc.Severity)
	}
}

func TestGatewaySuspiciousScannerPassesThrough(t *testing.T) {
	tg := newTestGateway(t, DefaultConfig())
	var called bool
	h := tg.gw.Middleware(okHandler(&called))

	r := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	r.Header.Set("User-Agent", "sqlmap/1.7.2#stable (https://sqlmap.org)")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if !called {
		t.Fatal("suspicious request must still reach the handler")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	inc := tg.sink.wait(t)
	if inc.Type != incident.TypeSuspiciousIdentity || inc.Severity != incident.SeverityMedium {
		t.Errorf("incident = %s/%s, want suspicious_identity/MEDIUM", inc.Type, inc.Severity)
	}
	if inc.Details["matchedPattern"] != "sqlmap" {
		t.Errorf("matchedPattern = %v", inc.Details["matchedPattern"])
	}
}

func TestGatewayRateLimitResponseContract(t *testing.T) {
	clk := testutil.NewMockClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewMemoryLimiterWithConfig(ratelimit.MemoryConfig{Clock: clk}, testutil.DiscardLogger())

	cfg := DefaultConfig()
	cfg.RoutePolicies = map[ratelimit.RouteClass]ratelimit.RoutePolicy{
		ratelimit.ClassAPI:   {Limit: 2, Window: time.Minute},
		ratelimit.ClassAuth:  {Limit: 2, Window: time.Minute},
		ratelimit.ClassAdmin: {Limit: 2, Window: time.Minute},
	}
	tg := newTestGateway(t, cfg, WithLimiter(limiter))
	h := tg.gw.Middleware(okHandler(nil))

	for i := 0; i < 2; i++ {
		if w := doRequest(h, "/api/items"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := doRequest(h, "/api/items")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	// Rejections still carry the hardening bundle and a request ID.
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options on 429 = %q", got)
	}
	if w.Header().Get(security.RequestIDHeader) == "" {
		t.Error("missing request ID on 429")
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After %q is not an integer", w.Header().Get("Retry-After"))
	}
	if retryAfter < 1 || retryAfter > 60 {
		t.Errorf("Retry-After = %d, want within the window", retryAfter)
	}

	inc := tg.sink.wait(t)
	if inc.Type != incident.TypeRateLimitExceeded {
		t.Errorf("incident type = %q", inc.Type)
	}
	if inc.Details["routeClass"] != "api" {
		t.Errorf("routeClass = %v", inc.Details["routeClass"])
	}

	// A fresh window readmits the client.
	clk.Advance(61 * time.Second)
	if w := doRequest(h, "/api/items"); w.Code != http.StatusOK {
		t.Fatalf("after window reset: status = %d, want 200", w.Code)
	}
}

func TestGatewayEscalatedBlockReported(t *testing.T) {
	clk := testutil.NewMockClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewMemoryLimiterWithConfig(ratelimit.MemoryConfig{
		ViolationThreshold: 2,
		BlockDuration:      5 * time.Minute,
		Clock:              clk,
	}, testutil.DiscardLogger())

	cfg := DefaultConfig()
	cfg.RoutePolicies = map[ratelimit.RouteClass]ratelimit.RoutePolicy{
		ratelimit.ClassAPI:   {Limit: 1, Window: time.Minute},
		ratelimit.ClassAuth:  {Limit: 1, Window: time.Minute},
		ratelimit.ClassAdmin: {Limit: 1, Window: time.Minute},
	}
	tg := newTestGateway(t, cfg, WithLimiter(limiter))
	h := tg.gw.Middleware(okHandler(nil))

	if w := doRequest(h, "/api/items"); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}

	// First violation: ordinary 429 within the window.
	doRequest(h, "/api/items")
	if inc := tg.sink.wait(t); inc.Type != incident.TypeRateLimitExceeded {
		t.Fatalf("first violation type = %q", inc.Type)
	}

	// Second violation crosses the threshold and escalates.
	w := doRequest(h, "/api/items")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "300" {
		t.Errorf("Retry-After = %q, want 300 (the block duration)", got)
	}
	inc := tg.sink.wait(t)
	if inc.Type != incident.TypeRateLimitBlock || inc.Severity != incident.SeverityHigh {
		t.Errorf("incident = %s/%s, want rate_limit_block/HIGH", inc.Type, inc.Severity)
	}
}

func TestGatewayEscalatedBlockReportedWithLongWindow(t *testing.T) {
	// The policy window here is far longer than the block duration, so an
	// escalated denial has a shorter retry horizon than an ordinary full
	// window would. The incident must still classify it as a block.
	clk := testutil.NewMockClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewMemoryLimiterWithConfig(ratelimit.MemoryConfig{
		ViolationThreshold: 2,
		BlockDuration:      5 * time.Minute,
		Clock:              clk,
	}, testutil.DiscardLogger())

	cfg := DefaultConfig()
	cfg.RoutePolicies = map[ratelimit.RouteClass]ratelimit.RoutePolicy{
		ratelimit.ClassAPI:   {Limit: 1, Window: 30 * time.Minute},
		ratelimit.ClassAuth:  {Limit: 1, Window: 30 * time.Minute},
		ratelimit.ClassAdmin: {Limit: 1, Window: 30 * time.Minute},
	}
	tg := newTestGateway(t, cfg, WithLimiter(limiter))
	h := tg.gw.Middleware(okHandler(nil))

	if w := doRequest(h, "/api/items"); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}

	doRequest(h, "/api/items")
	if inc := tg.sink.wait(t); inc.Type != incident.TypeRateLimitExceeded {
		t.Fatalf("first violation type = %q", inc.Type)
	}

	w := doRequest(h, "/api/items")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "300" {
		t.Errorf("Retry-After = %q, want 300 (the block duration)", got)
	}
	inc := tg.sink.wait(t)
	if inc.Type != incident.TypeRateLimitBlock || inc.Severity != incident.SeverityHigh {
		t.Errorf("incident = %s/%s, want rate_limit_block/HIGH", inc.Type, inc.Severity)
	}
}

func TestGatewayWithInstrumentationWired(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "test"})
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.RoutePolicies = map[ratelimit.RouteClass]ratelimit.RoutePolicy{
		ratelimit.ClassAPI:   {Limit: 1, Window: time.Minute},
		ratelimit.ClassAuth:  {Limit: 1, Window: time.Minute},
		ratelimit.ClassAdmin: {Limit: 1, Window: time.Minute},
	}
	tg := newTestGateway(t, cfg, WithInstrumentation(inst))
	var called bool
	h := tg.gw.Middleware(okHandler(&called))

	// Telemetry must be transparent on every outcome: pass-through,
	// honeypot decoy, and rate limit rejection.
	if w := doRequest(h, "/api/items"); w.Code != http.StatusOK || !called {
		t.Fatalf("instrumented pass-through: status = %d, called = %v", w.Code, called)
	}
	if w := doRequest(h, "/wp-admin"); w.Code != http.StatusNotFound {
		t.Fatalf("instrumented decoy: status = %d, want 404", w.Code)
	}
	if w := doRequest(h, "/api/items"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("instrumented over-limit: status = %d, want 429", w.Code)
	}
}

func TestGatewayAppliesSecurityHeaders(t *testing.T) {
	tg := newTestGateway(t, DefaultConfig())

	var nonce string
	h := tg.gw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonce = security.NonceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := doRequest(h, "/api/items")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := w.Header().Get(security.PolicyVersionHeader); got != "1" {
		t.Errorf("policy version header = %q", got)
	}
	csp := w.Header().Get("Content-Security-Policy")
	if csp == "" {
		t.Fatal("missing Content-Security-Policy")
	}
	if nonce == "" {
		t.Fatal("nonce not threaded into the request context")
	}
	tg.sink.expectNone(t)
}

func TestNewGatewayRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Environment = "staging"
	if _, err := NewGateway(cfg); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}
