package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgegate/edgegate/incident"
	"github.com/edgegate/edgegate/instrumentation"
	"github.com/edgegate/edgegate/internal/testutil"
	"github.com/edgegate/edgegate/security"
	"github.com/edgegate/edgegate/server"
	"github.com/edgegate/edgegate/storage/memory"
)

const testSecret = "internal-test-secret"

func securityHasher() *security.IPHasher {
	return security.NewIPHasher("test-salt")
}

type testAPI struct {
	store *memory.Store
	clock *testutil.MockClock
	srv   *httptest.Server
}

func newTestAPI(t *testing.T, mutate func(*server.Config)) *testAPI {
	t.Helper()
	clock := testutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	store.SetClock(clock)

	cfg := server.Config{
		SharedSecret: testSecret,
		Logger:       testutil.DiscardLogger(),
		Clock:        clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := server.New(cfg, store)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return &testAPI{store: store, clock: clock, srv: ts}
}

func (a *testAPI) do(t *testing.T, method, path, secret string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(incident.SharedSecretHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func seedIncident(t *testing.T, store *memory.Store, incidentType string, severity incident.Severity, createdAt time.Time) *incident.Incident {
	t.Helper()
	inc := incident.NewIncident(incidentType, severity, createdAt)
	inc.IPHash = "hash-seed"
	inc.Path = "/wp-admin"
	if err := store.SaveIncident(context.Background(), inc); err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	return inc
}

func TestHealthzNeedsNoSecret(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestInternalRoutesRequireSecret(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name   string
		secret string
	}{
		{"missing secret", ""},
		{"wrong secret", "not-the-secret"},
		{"prefix of the secret", testSecret[:len(testSecret)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, http.MethodGet, "/internal/incidents", tt.secret, nil)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestInternalAPIDisabledWithoutSecret(t *testing.T) {
	api := newTestAPI(t, func(cfg *server.Config) { cfg.SharedSecret = "" })

	// Even the empty presented secret must not match an empty configured
	// secret.
	resp := api.do(t, http.MethodGet, "/internal/incidents", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestNewRequiresSecretInProduction(t *testing.T) {
	_, err := server.New(server.Config{
		Production: true,
		Logger:     testutil.DiscardLogger(),
	}, memory.New())
	if err == nil {
		t.Fatal("expected error for production without a shared secret")
	}
}

func TestIngestPersistsIncident(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.do(t, http.MethodPost, "/internal/incidents", testSecret, map[string]any{
		"type":     incident.TypeHoneypotHit,
		"severity": int(incident.SeverityCritical),
		"ipHash":   "hash-remote",
		"path":     "/wp-login.php",
		// A pushing instance cannot pick its own score.
		"riskScore": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)
	if created.ID == "" {
		t.Fatal("response carries no incident id")
	}

	stored, err := api.store.GetIncident(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if stored.Type != incident.TypeHoneypotHit || stored.IPHash != "hash-remote" {
		t.Errorf("stored incident = %+v", stored)
	}
	if stored.RiskScore != 100 {
		t.Errorf("risk score = %d, want the server-side value 100", stored.RiskScore)
	}
	if !stored.CreatedAt.Equal(api.clock.Now()) {
		t.Errorf("createdAt = %v, want the server clock %v", stored.CreatedAt, api.clock.Now())
	}
}

func TestInstrumentedAPIBehavesIdentically(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	api := newTestAPI(t, func(cfg *server.Config) {
		cfg.Instrumentation = inst
		cfg.StorageBackend = "memory"
	})

	// Spans and storage metrics wrap every handler; responses must be
	// byte-for-byte what the uninstrumented server produces.
	resp := api.do(t, http.MethodPost, "/internal/incidents", testSecret, map[string]any{
		"type":     incident.TypeMaliciousURL,
		"severity": int(incident.SeverityHigh),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d, want 201", resp.StatusCode)
	}

	resp = api.do(t, http.MethodGet, "/internal/incidents", testSecret, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var listed struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &listed)
	if listed.Count != 1 {
		t.Errorf("count = %d, want 1", listed.Count)
	}

	resp = api.do(t, http.MethodGet, "/internal/dashboard?window=1h&buckets=4", testSecret, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d, want 200", resp.StatusCode)
	}

	// Error paths run through the same telemetry wrapper.
	resp = api.do(t, http.MethodPost, "/internal/incidents/nope/resolve", testSecret, map[string]string{
		"resolvedBy": "ops",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resolve status = %d, want 404", resp.StatusCode)
	}
}

func TestIngestValidation(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing type", map[string]any{"severity": 2}},
		{"severity out of range", map[string]any{"type": "honeypot_hit", "severity": 9}},
		{"negative severity", map[string]any{"type": "honeypot_hit", "severity": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, http.MethodPost, "/internal/incidents", testSecret, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, api.srv.URL+"/internal/incidents", strings.NewReader("{not json"))
		req.Header.Set(incident.SharedSecretHeader, testSecret)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestIngestRateLimited(t *testing.T) {
	api := newTestAPI(t, func(cfg *server.Config) {
		cfg.IngestRate = rate.Limit(0.001)
		cfg.IngestBurst = 1
	})

	body := map[string]any{"type": incident.TypeMaliciousURL, "severity": 2}
	if resp := api.do(t, http.MethodPost, "/internal/incidents", testSecret, body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first ingest: status = %d", resp.StatusCode)
	}
	resp := api.do(t, http.MethodPost, "/internal/incidents", testSecret, body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second ingest: status = %d, want 429", resp.StatusCode)
	}
}

func TestListFilters(t *testing.T) {
	api := newTestAPI(t, nil)
	now := api.clock.Now()

	seedIncident(t, api.store, incident.TypeHoneypotHit, incident.SeverityCritical, now.Add(-10*time.Minute))
	seedIncident(t, api.store, incident.TypeMaliciousURL, incident.SeverityHigh, now.Add(-5*time.Minute))
	old := seedIncident(t, api.store, incident.TypeSuspiciousIdentity, incident.SeverityLow, now.Add(-3*time.Hour))
	if err := api.store.ResolveIncident(context.Background(), old.ID, "oncall", "scanner noise", now); err != nil {
		t.Fatalf("resolve seed: %v", err)
	}

	var listed struct {
		Incidents []*incident.Incident `json:"incidents"`
		Count     int                  `json:"count"`
	}

	resp := api.do(t, http.MethodGet, "/internal/incidents", testSecret, nil)
	decodeBody(t, resp, &listed)
	if listed.Count != 3 {
		t.Fatalf("unfiltered count = %d, want 3", listed.Count)
	}
	// Newest first.
	if listed.Incidents[0].Type != incident.TypeMaliciousURL {
		t.Errorf("first incident = %s, want the newest", listed.Incidents[0].Type)
	}

	resp = api.do(t, http.MethodGet, "/internal/incidents?minSeverity=HIGH", testSecret, nil)
	decodeBody(t, resp, &listed)
	if listed.Count != 2 {
		t.Errorf("minSeverity=HIGH count = %d, want 2", listed.Count)
	}

	resp = api.do(t, http.MethodGet, "/internal/incidents?unresolved=true", testSecret, nil)
	decodeBody(t, resp, &listed)
	if listed.Count != 2 {
		t.Errorf("unresolved count = %d, want 2", listed.Count)
	}

	since := now.Add(-time.Hour).Format(time.RFC3339)
	resp = api.do(t, http.MethodGet, "/internal/incidents?since="+since, testSecret, nil)
	decodeBody(t, resp, &listed)
	if listed.Count != 2 {
		t.Errorf("since count = %d, want 2", listed.Count)
	}

	resp = api.do(t, http.MethodGet, "/internal/incidents?limit=1&offset=1", testSecret, nil)
	decodeBody(t, resp, &listed)
	if listed.Count != 1 || listed.Incidents[0].Type != incident.TypeHoneypotHit {
		t.Errorf("paged result = %+v", listed.Incidents)
	}

	if resp := api.do(t, http.MethodGet, "/internal/incidents?since=yesterday", testSecret, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodGet, "/internal/incidents?limit=0", testSecret, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", resp.StatusCode)
	}
}

func TestResolveIncident(t *testing.T) {
	api := newTestAPI(t, nil)
	inc := seedIncident(t, api.store, incident.TypeHoneypotHit, incident.SeverityCritical, api.clock.Now())

	t.Run("requires resolvedBy", func(t *testing.T) {
		resp := api.do(t, http.MethodPost, fmt.Sprintf("/internal/incidents/%s/resolve", inc.ID), testSecret, map[string]string{
			"resolution": "handled",
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("resolves and returns final state", func(t *testing.T) {
		resp := api.do(t, http.MethodPost, fmt.Sprintf("/internal/incidents/%s/resolve", inc.ID), testSecret, map[string]string{
			"resolvedBy": "oncall",
			"resolution": "blocked the origin upstream",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var resolved incident.Incident
		decodeBody(t, resp, &resolved)
		if !resolved.Resolved || resolved.ResolvedBy != "oncall" || resolved.ResolvedAt == nil {
			t.Errorf("resolved incident = %+v", resolved)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		resp := api.do(t, http.MethodPost, "/internal/incidents/no-such-id/resolve", testSecret, map[string]string{
			"resolvedBy": "oncall",
		})
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestDashboardFeed(t *testing.T) {
	api := newTestAPI(t, nil)
	now := api.clock.Now()

	seedIncident(t, api.store, incident.TypeHoneypotHit, incident.SeverityCritical, now.Add(-5*time.Minute))
	seedIncident(t, api.store, incident.TypeHoneypotHit, incident.SeverityCritical, now.Add(-10*time.Minute))
	seedIncident(t, api.store, incident.TypeRateLimitExceeded, incident.SeverityMedium, now.Add(-50*time.Minute))
	// Outside the requested window.
	seedIncident(t, api.store, incident.TypeMaliciousURL, incident.SeverityHigh, now.Add(-3*time.Hour))

	resp := api.do(t, http.MethodGet, "/internal/dashboard?window=1h&buckets=4", testSecret, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var stats incident.DashboardStats
	decodeBody(t, resp, &stats)

	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if len(stats.Buckets) != 4 {
		t.Fatalf("buckets = %d, want 4", len(stats.Buckets))
	}
	if stats.Buckets[3].Count != 2 {
		t.Errorf("latest bucket count = %d, want 2", stats.Buckets[3].Count)
	}
	if stats.TotalRiskScore != 250 {
		t.Errorf("total risk score = %d, want 250", stats.TotalRiskScore)
	}
	if len(stats.TopTypes) == 0 || stats.TopTypes[0].Type != incident.TypeHoneypotHit {
		t.Errorf("top types = %+v", stats.TopTypes)
	}

	if resp := api.do(t, http.MethodGet, "/internal/dashboard?window=banana", testSecret, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad window: status = %d, want 400", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodGet, "/internal/dashboard?buckets=0", testSecret, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad buckets: status = %d, want 400", resp.StatusCode)
	}
}

func TestAuthFailureReported(t *testing.T) {
	// The reporter writes into a separate store so the assertion does not
	// race listing against the API's own store.
	authStore := memory.New()
	reporter := incident.NewReporter(incident.NewStoreSink(authStore), securityHasher(), testutil.DiscardLogger())

	store := memory.New()
	s, err := server.New(server.Config{
		SharedSecret: testSecret,
		Logger:       testutil.DiscardLogger(),
	}, store, server.WithReporter(reporter))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/internal/incidents", nil)
	req.Header.Set(incident.SharedSecretHeader, "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reporter.Close(ctx); err != nil {
		t.Fatalf("drain reporter: %v", err)
	}

	incidents, err := authStore.ListIncidents(context.Background(), incident.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 || incidents[0].Type != incident.TypeIngestAuthFailure {
		t.Fatalf("recorded incidents = %+v, want one ingest_auth_failure", incidents)
	}
	if incidents[0].Severity != incident.SeverityHigh {
		t.Errorf("severity = %v, want high", incidents[0].Severity)
	}
}
