package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/changecast/internal/persistence"
)

const (
	schemaVersionQuery = `SELECT version, dirty FROM schema_migrations LIMIT 1`
	// reltuples is the planner's estimate; exact counts scan the table.
	eventsEstimateQuery = `SELECT COALESCE(reltuples, 0)::bigint FROM pg_class WHERE relname = 'change_events'`
)

// storeHealth reports whether the event store is reachable and migrated.
type storeHealth struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

func (h *storeHealth) Health(ctx context.Context) persistence.HealthCheck {
	if !h.enabled {
		return persistence.HealthCheck{
			Healthy:   true,
			Errors:    []string{"event store disabled"},
			LastCheck: time.Now(),
		}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	hc := persistence.HealthCheck{Healthy: true}
	fail := func(format string, args ...interface{}) {
		hc.Healthy = false
		hc.Errors = append(hc.Errors, fmt.Sprintf(format, args...))
	}

	if err := h.db.PingContext(ctx); err != nil {
		fail("ping failed: %v", err)
	} else {
		var dirty bool
		err := h.db.QueryRowxContext(ctx, schemaVersionQuery).Scan(&hc.SchemaVersion, &dirty)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			fail("schema not migrated")
		case err != nil:
			fail("schema version: %v", err)
		case dirty:
			fail("schema version %d is dirty", hc.SchemaVersion)
		}

		if err := h.db.GetContext(ctx, &hc.EventsEstimate, eventsEstimateQuery); err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail("events estimate: %v", err)
		}
	}

	stats := h.db.Stats()
	hc.ConnectionPool = map[string]int{
		"max_open": stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
		"in_use":   stats.InUse,
		"idle":     stats.Idle,
	}
	hc.LastCheck = time.Now()
	hc.ResponseTimeMS = time.Since(start).Milliseconds()
	return hc
}

func (h *storeHealth) Ping(ctx context.Context) error {
	if !h.enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(ctx)
}
