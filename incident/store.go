package incident

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no incident matches the given ID.
var ErrNotFound = errors.New("incident not found")

// ListFilter narrows a List call. Zero values mean "no constraint".
type ListFilter struct {
	Type        string
	MinSeverity Severity
	Unresolved  bool
	Since       time.Time
	Limit       int
	Offset      int
}

// Store is the persistence port for incidents. The reporter receives it at
// construction rather than importing a backend, so the dependency graph
// stays explicit.
type Store interface {
	// SaveIncident persists a new incident.
	SaveIncident(ctx context.Context, inc *Incident) error

	// GetIncident retrieves an incident by ID.
	GetIncident(ctx context.Context, id string) (*Incident, error)

	// ListIncidents returns incidents matching the filter, newest first.
	ListIncidents(ctx context.Context, filter ListFilter) ([]*Incident, error)

	// ResolveIncident marks an incident resolved. Resolved incidents always
	// carry resolvedAt and resolvedBy; implementations must reject an empty
	// resolvedBy.
	ResolveIncident(ctx context.Context, id, resolvedBy, resolution string, resolvedAt time.Time) error
}
