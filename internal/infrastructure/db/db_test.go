package db

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, config.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"enabled_without_dsn", func(c *Config) { c.Enabled = true }, "DSN is required"},
		{"zero_open", func(c *Config) { c.MaxOpenConns = 0 }, "max_open_conns"},
		{"negative_idle", func(c *Config) { c.MaxIdleConns = -1 }, "cannot be negative"},
		{"idle_above_open", func(c *Config) { c.MaxIdleConns = 20 }, "cannot exceed"},
		{"zero_timeout", func(c *Config) { c.QueryTimeout = 0 }, "query_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_FillDefaultsAndEnv(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/changes")
	t.Setenv("PG_ENABLED", "true")
	t.Setenv("PG_MAX_OPEN_CONNS", "4")
	t.Setenv("PG_QUERY_TIMEOUT", "2s")

	var c Config
	ApplyEnvOverrides(&c)
	c.FillDefaults()

	assert.Equal(t, "postgres://localhost/changes", c.DSN)
	assert.True(t, c.Enabled)
	assert.Equal(t, 4, c.MaxOpenConns)
	assert.Equal(t, 5, c.MaxIdleConns)
	assert.Equal(t, 2*time.Second, c.QueryTimeout)
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := NewManager(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Events())
	assert.Nil(t, manager.DB())
	assert.NoError(t, manager.Close())

	health := manager.Health().Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Contains(t, health.Errors[0], "disabled")
	assert.NoError(t, manager.Health().Ping(context.Background()))
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := NewManager(context.Background(), Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestManager_HealthWithDB(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), DefaultConfig())
	assert.True(t, manager.IsEnabled())
	assert.NotNil(t, manager.Events())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT version, dirty FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "dirty"}).AddRow(1, false))
	mock.ExpectQuery("FROM pg_class").
		WillReturnRows(sqlmock.NewRows([]string{"reltuples"}).AddRow(1200))
	health := manager.Health().Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Errors)
	assert.Equal(t, int64(1), health.SchemaVersion)
	assert.Equal(t, int64(1200), health.EventsEstimate)
	assert.Contains(t, health.ConnectionPool, "max_open")

	mock.ExpectPing().WillReturnError(io.ErrUnexpectedEOF)
	health = manager.Health().Health(context.Background())
	assert.False(t, health.Healthy)
	require.Len(t, health.Errors, 1)
	assert.Contains(t, health.Errors[0], "ping failed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_HealthSchemaProblems(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()
	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), DefaultConfig())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT version, dirty FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "dirty"}).AddRow(1, true))
	mock.ExpectQuery("FROM pg_class").
		WillReturnRows(sqlmock.NewRows([]string{"reltuples"}))
	health := manager.Health().Health(context.Background())
	assert.False(t, health.Healthy)
	assert.Equal(t, []string{"schema version 1 is dirty"}, health.Errors)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT version, dirty FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "dirty"}))
	mock.ExpectQuery("FROM pg_class").
		WillReturnRows(sqlmock.NewRows([]string{"reltuples"}).AddRow(0))
	health = manager.Health().Health(context.Background())
	assert.False(t, health.Healthy)
	assert.Equal(t, []string{"schema not migrated"}, health.Errors)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationSource(t *testing.T) {
	src, err := MigrationSource()
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	up, ident, err := src.ReadUp(version)
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, "change_events", ident)

	body, err := io.ReadAll(up)
	require.NoError(t, err)
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS change_events")
	assert.Contains(t, string(body), "UNIQUE (infobox_key, property_name, value_valid_from, revision_id)")

	_, err = src.Next(version)
	assert.Error(t, err)
}
