package incident

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// TimeBucket is one slot of the dashboard time series.
type TimeBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`

	// BySeverity splits the bucket count by severity name.
	BySeverity map[string]int `json:"bySeverity"`
}

// TypeCount ranks an incident type by frequency.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// SourceCount ranks an origin (by IP hash) by frequency.
type SourceCount struct {
	IPHash string `json:"ipHash"`
	Count  int    `json:"count"`
}

// DashboardStats is the aggregated read model consumed by the live
// monitoring dashboard.
type DashboardStats struct {
	Window         time.Duration  `json:"windowSeconds"`
	GeneratedAt    time.Time      `json:"generatedAt"`
	Total          int            `json:"total"`
	Unresolved     int            `json:"unresolved"`
	BySeverity     map[string]int `json:"bySeverity"`
	TopTypes       []TypeCount    `json:"topTypes"`
	TopSources     []SourceCount  `json:"topSources"`
	Buckets        []TimeBucket   `json:"buckets"`
	TotalRiskScore int            `json:"totalRiskScore"`
}

// Aggregator computes severity/time-bucketed statistics over stored
// incidents. It is a pure read-side component: it consumes what the
// reporter persisted and never mutates it.
type Aggregator struct {
	store Store
	clock Clock
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, clock: systemClock{}}
}

// SetClock overrides the time source (tests only).
func (a *Aggregator) SetClock(c Clock) { a.clock = c }

// Stats aggregates the incidents of the trailing window into bucketCount
// equal time slots plus severity, type, and source breakdowns.
func (a *Aggregator) Stats(ctx context.Context, window time.Duration, bucketCount int) (*DashboardStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if bucketCount <= 0 {
		bucketCount = 24
	}

	now := a.clock.Now()
	since := now.Add(-window)

	incidents, err := a.store.ListIncidents(ctx, ListFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("list incidents for aggregation: %w", err)
	}

	stats := &DashboardStats{
		Window:      window,
		GeneratedAt: now,
		BySeverity:  make(map[string]int),
		Buckets:     make([]TimeBucket, bucketCount),
	}
	bucketSize := window / time.Duration(bucketCount)
	for i := range stats.Buckets {
		stats.Buckets[i] = TimeBucket{
			Start:      since.Add(time.Duration(i) * bucketSize),
			BySeverity: make(map[string]int),
		}
	}

	typeCounts := make(map[string]int)
	sourceCounts := make(map[string]int)

	for _, inc := range incidents {
		stats.Total++
		stats.TotalRiskScore += inc.RiskScore
		stats.BySeverity[inc.Severity.String()]++
		typeCounts[inc.Type]++
		sourceCounts[inc.IPHash]++
		if !inc.Resolved {
			stats.Unresolved++
		}

		idx := int(inc.CreatedAt.Sub(since) / bucketSize)
		if idx == bucketCount {
			// An incident stamped exactly at the window's trailing edge
			// lands in the newest bucket, not outside the series.
			idx = bucketCount - 1
		}
		if idx >= 0 && idx < bucketCount {
			stats.Buckets[idx].Count++
			stats.Buckets[idx].BySeverity[inc.Severity.String()]++
		}
	}

	stats.TopTypes = topTypes(typeCounts, 10)
	stats.TopSources = topSources(sourceCounts, 10)
	return stats, nil
}

func topTypes(counts map[string]int, n int) []TypeCount {
	out := make([]TypeCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, TypeCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topSources(counts map[string]int, n int) []SourceCount {
	out := make([]SourceCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, SourceCount{IPHash: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IPHash < out[j].IPHash
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
