package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edgegate/edgegate"
	"github.com/edgegate/edgegate/incident"
)

// writeJSON writes v with the given status. Encoding failures after the
// header is committed can only be logged.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest persists an incident pushed by a remote gateway instance.
// The payload is the incident wire shape the HTTP sink emits.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.ingestLimiter.Allow() {
		edgegate.WriteError(w, edgegate.ErrTooManyRequests())
		return
	}

	var inc incident.Incident
	body := http.MaxBytesReader(w, r.Body, maxIngestBodySize)
	if err := json.NewDecoder(body).Decode(&inc); err != nil {
		edgegate.WriteError(w, edgegate.ErrBadRequest("malformed incident payload"))
		return
	}
	if inc.Type == "" {
		edgegate.WriteError(w, edgegate.ErrBadRequest("incident type is required"))
		return
	}
	if inc.Severity < incident.SeverityLow || inc.Severity > incident.SeverityCritical {
		edgegate.WriteError(w, edgegate.ErrBadRequest("unknown severity"))
		return
	}

	// Server-side fields are authoritative: a pushing instance cannot
	// choose its own risk score, and gaps are filled here.
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.clock.Now()
	}
	inc.RiskScore = inc.Severity.RiskScore()

	err := s.storeOp(r.Context(), "save_incident", func(ctx context.Context) error {
		return s.store.SaveIncident(ctx, &inc)
	})
	if err != nil {
		s.logger.Error("persist ingested incident failed", "error", err, "type", inc.Type)
		edgegate.WriteError(w, edgegate.ErrServerError())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"id": inc.ID})
}

// handleList returns incidents matching the query filters, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		edgegate.WriteError(w, edgegate.ErrBadRequest(err.Error()))
		return
	}

	var incidents []*incident.Incident
	err = s.storeOp(r.Context(), "list_incidents", func(ctx context.Context) error {
		incidents, err = s.store.ListIncidents(ctx, filter)
		return err
	})
	if err != nil {
		s.logger.Error("list incidents failed", "error", err)
		edgegate.WriteError(w, edgegate.ErrServerError())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// parseListFilter maps query parameters onto the store filter. Unknown
// severity names intentionally degrade to LOW, matching ParseSeverity.
func parseListFilter(r *http.Request) (incident.ListFilter, error) {
	q := r.URL.Query()
	filter := incident.ListFilter{
		Type:       q.Get("type"),
		Unresolved: q.Get("unresolved") == "true",
		Limit:      100,
	}
	if v := q.Get("minSeverity"); v != "" {
		filter.MinSeverity = incident.ParseSeverity(v)
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be RFC 3339")
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		if limit > 1000 {
			limit = 1000
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}

// handleResolve marks an incident resolved and returns its final state.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		ResolvedBy string `json:"resolvedBy"`
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBodySize)).Decode(&req); err != nil {
		edgegate.WriteError(w, edgegate.ErrBadRequest("malformed resolve payload"))
		return
	}
	if req.ResolvedBy == "" {
		edgegate.WriteError(w, edgegate.ErrBadRequest("resolvedBy is required"))
		return
	}

	err := s.storeOp(r.Context(), "resolve_incident", func(ctx context.Context) error {
		return s.store.ResolveIncident(ctx, id, req.ResolvedBy, req.Resolution, s.clock.Now())
	})
	switch {
	case errors.Is(err, incident.ErrNotFound):
		edgegate.WriteError(w, edgegate.ErrResourceNotFound())
		return
	case err != nil:
		s.logger.Error("resolve incident failed", "error", err, "id", id)
		edgegate.WriteError(w, edgegate.ErrServerError())
		return
	}

	var inc *incident.Incident
	err = s.storeOp(r.Context(), "get_incident", func(ctx context.Context) error {
		inc, err = s.store.GetIncident(ctx, id)
		return err
	})
	if err != nil {
		s.logger.Error("load resolved incident failed", "error", err, "id", id)
		edgegate.WriteError(w, edgegate.ErrServerError())
		return
	}
	s.writeJSON(w, http.StatusOK, inc)
}

// handleDashboard serves the aggregated feed the monitoring dashboard polls.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	window := 24 * time.Hour
	if v := q.Get("window"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			edgegate.WriteError(w, edgegate.ErrBadRequest("window must be a positive duration"))
			return
		}
		window = parsed
	}

	buckets := 24
	if v := q.Get("buckets"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 288 {
			edgegate.WriteError(w, edgegate.ErrBadRequest("buckets must be between 1 and 288"))
			return
		}
		buckets = parsed
	}

	var stats *incident.DashboardStats
	err := s.storeOp(r.Context(), "aggregate_stats", func(ctx context.Context) error {
		var err error
		stats, err = s.aggregator.Stats(ctx, window, buckets)
		return err
	})
	if err != nil {
		s.logger.Error("aggregate dashboard stats failed", "error", err)
		edgegate.WriteError(w, edgegate.ErrServerError())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
