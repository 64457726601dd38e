package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/changecast/internal/changes"
)

// ErrDuplicateEvent is returned when a batch contains an event that is already stored.
var ErrDuplicateEvent = errors.New("duplicate change event")

// TimeRange represents a half-open time window [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t lies in the window. A zero To is unbounded.
func (tr TimeRange) Contains(t time.Time) bool {
	if t.Before(tr.From) {
		return false
	}
	return tr.To.IsZero() || t.Before(tr.To)
}

// ChangeEventRepo stores infobox change events.
type ChangeEventRepo interface {
	// InsertBatch adds events atomically; duplicates abort the batch.
	InsertBatch(ctx context.Context, events []changes.ChangeEvent) error

	// ListSorted returns events in filter order (infobox, property, time)
	// restricted to the window.
	ListSorted(ctx context.Context, tr TimeRange) ([]changes.ChangeEvent, error)

	// ListKeys returns the distinct values of the key columns in the store.
	ListKeys(ctx context.Context, keyColumns []string) ([]changes.GroupKey, error)

	// CountBefore counts events strictly before cutoff.
	CountBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// HealthCheck represents event store health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	SchemaVersion  int64          `json:"schema_version"`
	EventsEstimate int64          `json:"events_estimate"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
