package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SharedSecretHeader authenticates internal incident ingestion calls.
const SharedSecretHeader = "X-Internal-Secret"

// Sink is the delivery boundary for incidents. The reporter holds exactly
// one; composition (fan-out, buffering) happens behind this interface.
type Sink interface {
	Deliver(ctx context.Context, inc *Incident) error
}

// StoreSink delivers incidents straight into an incident store. Used when
// the gateway and the persistence layer share a process.
type StoreSink struct {
	store Store
}

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

// Deliver persists the incident.
func (s *StoreSink) Deliver(ctx context.Context, inc *Incident) error {
	return s.store.SaveIncident(ctx, inc)
}

// HTTPSink delivers incidents to the internal, shared-secret-authenticated
// persistence endpoint of another instance.
type HTTPSink struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewHTTPSink creates a sink posting to endpoint with the shared secret.
func NewHTTPSink(endpoint, secret string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Deliver posts the incident as JSON. Any non-2xx status is an error so the
// reporter can count the failure; the body is not read beyond the status.
func (s *HTTPSink) Deliver(ctx context.Context, inc *Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SharedSecretHeader, s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post incident: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ingest endpoint returned %d", resp.StatusCode)
	}
	return nil
}
