package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/changecast/internal/persistence"
	"github.com/sawpanic/changecast/internal/persistence/postgres"
)

// Manager manages the database connection and the change event repository
type Manager struct {
	db     *sqlx.DB
	config Config
	events persistence.ChangeEventRepo
	health *storeHealth
}

// NewManager opens and pings the database. A disabled config yields a
// manager without a connection.
func NewManager(ctx context.Context, config Config) (*Manager, error) {
	if !config.Enabled {
		return &Manager{
			config: config,
			health: &storeHealth{enabled: false},
		}, nil
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := NewManagerWithDB(db, config)
	if config.MigrateOnStart {
		if err := Migrate(db.DB); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.Info().
		Int("max_open_conns", config.MaxOpenConns).
		Dur("query_timeout", config.QueryTimeout).
		Msg("Database connected")
	return m, nil
}

// NewManagerWithDB wraps an existing connection.
func NewManagerWithDB(db *sqlx.DB, config Config) *Manager {
	config.Enabled = true
	return &Manager{
		db:     db,
		config: config,
		events: postgres.NewChangesRepo(db, config.QueryTimeout),
		health: &storeHealth{
			enabled: true,
			db:      db,
			timeout: config.QueryTimeout,
		},
	}
}

// Events returns the change event repository, or nil if database is disabled
func (m *Manager) Events() persistence.ChangeEventRepo {
	return m.events
}

// Health returns the health checker interface
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// DB returns the underlying database connection
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// IsEnabled returns whether database persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
