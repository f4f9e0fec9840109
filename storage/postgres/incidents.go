package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgegate/edgegate/incident"
)

type incidentRow struct {
	ID         string         `db:"id"`
	Type       string         `db:"type"`
	Severity   int            `db:"severity"`
	RiskScore  int            `db:"risk_score"`
	IPHash     string         `db:"ip_hash"`
	Path       string         `db:"path"`
	UserAgent  string         `db:"user_agent"`
	UserID     string         `db:"user_id"`
	Details    []byte         `db:"details"`
	Resolved   bool           `db:"resolved"`
	ResolvedAt sql.NullTime   `db:"resolved_at"`
	ResolvedBy string         `db:"resolved_by"`
	Resolution string         `db:"resolution"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r *incidentRow) toIncident() (*incident.Incident, error) {
	inc := &incident.Incident{
		ID:         r.ID,
		Type:       r.Type,
		Severity:   incident.Severity(r.Severity),
		RiskScore:  r.RiskScore,
		IPHash:     r.IPHash,
		Path:       r.Path,
		UserAgent:  r.UserAgent,
		UserID:     r.UserID,
		Resolved:   r.Resolved,
		ResolvedBy: r.ResolvedBy,
		Resolution: r.Resolution,
		CreatedAt:  r.CreatedAt,
	}
	if r.ResolvedAt.Valid {
		at := r.ResolvedAt.Time
		inc.ResolvedAt = &at
	}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &inc.Details); err != nil {
			return nil, fmt.Errorf("decode incident details: %w", err)
		}
	}
	return inc, nil
}

// SaveIncident persists a new incident.
func (s *Store) SaveIncident(ctx context.Context, inc *incident.Incident) error {
	details := inc.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode incident details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_incidents
			(id, type, severity, risk_score, ip_hash, path, user_agent, user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inc.ID, inc.Type, int(inc.Severity), inc.RiskScore, inc.IPHash,
		inc.Path, inc.UserAgent, inc.UserID, detailsJSON, inc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM security_incidents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, incident.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return row.toIncident()
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(ctx context.Context, filter incident.ListFilter) ([]*incident.Incident, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Type != "" {
		where = append(where, "type = "+arg(filter.Type))
	}
	if filter.MinSeverity > 0 {
		where = append(where, "severity >= "+arg(int(filter.MinSeverity)))
	}
	if filter.Unresolved {
		where = append(where, "NOT resolved")
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= "+arg(filter.Since))
	}

	query := "SELECT * FROM security_incidents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	var rows []incidentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	out := make([]*incident.Incident, 0, len(rows))
	for i := range rows {
		inc, err := rows[i].toIncident()
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

// ResolveIncident marks an incident resolved. Rows already resolved are
// left untouched so the first resolution wins.
func (s *Store) ResolveIncident(ctx context.Context, id, resolvedBy, resolution string, resolvedAt time.Time) error {
	if resolvedBy == "" {
		return fmt.Errorf("resolve incident %s: resolvedBy is required", id)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE security_incidents
		SET resolved = TRUE, resolved_at = $1, resolved_by = $2, resolution = $3
		WHERE id = $4 AND NOT resolved`,
		resolvedAt, resolvedBy, resolution, id)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if n == 0 {
		// Either missing or already resolved; distinguish for the caller.
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM security_incidents WHERE id = $1)`, id); err != nil {
			return fmt.Errorf("resolve incident: %w", err)
		}
		if !exists {
			return incident.ErrNotFound
		}
	}
	return nil
}
