package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/changecast/internal/filter"
	plog "github.com/sawpanic/changecast/internal/log"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultAppConfig_Valid(t *testing.T) {
	cfg := DefaultAppConfig()
	require.NoError(t, cfg.Validate())

	bt, err := cfg.BacktestConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 9, 1, 0, 0, 0, 0, time.UTC), bt.TestStart)
	assert.Equal(t, 365, bt.TestDuration)
	assert.Len(t, bt.Horizons, 4)
	assert.Equal(t, plog.ModeAuto, bt.Progress)
}

func TestLoadAppConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadAppConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mean-interval", cfg.Predictor.Name)
	assert.Equal(t, 500, cfg.Ingest.BatchSize)
}

func TestLoadAppConfig_FileAndEnv(t *testing.T) {
	path := writeFile(t, "changecast.yaml", `
backtest:
  test_start: "2019-01-01"
  duration_days: 30
  workers: 2
  horizons:
    - days: 1
      label: day
    - days: 7
      label: week
predictor:
  name: periodic
  min_history: 4
cache:
  breaker:
    open_timeout: 10s
database:
  query_timeout: 5s
`)
	t.Setenv("CHANGECAST_WORKERS", "8")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CHANGECAST_GROUP_KEY", "infobox_key, property_name ,template")

	cfg, err := LoadAppConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.Backtest.Workers)
	assert.Equal(t, "periodic", cfg.Predictor.Name)
	assert.Equal(t, "localhost:6379", cfg.CacheConfig().Addr)
	assert.Equal(t, 10*time.Second, cfg.CacheConfig().OpenTimeout)
	assert.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)

	bt, err := cfg.BacktestConfig()
	require.NoError(t, err)
	assert.Equal(t, 30, bt.TestDuration)
	assert.Equal(t, []string{"infobox_key", "property_name", "template"}, bt.KeyColumns)
	require.Len(t, bt.Horizons, 2)
	assert.Equal(t, "week", bt.Horizons[1].Label)

	opts := cfg.PredictorOptions(nil)
	assert.Equal(t, 4, opts.MinHistory)
}

func TestLoadAppConfig_ParseError(t *testing.T) {
	path := writeFile(t, "bad.yaml", "backtest: [unclosed")
	_, err := LoadAppConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*AppConfig)
		errMsg string
	}{
		{"bad_date", func(c *AppConfig) { c.Backtest.TestStart = "01/09/2018" }, "invalid test_start"},
		{"unknown_predictor", func(c *AppConfig) { c.Predictor.Name = "oracle" }, "unknown predictor"},
		{"bad_overlap", func(c *AppConfig) { c.Predictor.MinOverlap = 1.5 }, "min_overlap"},
		{"bad_subset", func(c *AppConfig) { c.Backtest.PredictSubset = 2 }, "predict subset"},
		{"bad_progress", func(c *AppConfig) { c.Backtest.Progress = "fancy" }, "invalid progress mode"},
		{"bad_key", func(c *AppConfig) { c.Backtest.KeyColumns = []string{"nope"} }, "unknown group key column"},
		{"db_without_dsn", func(c *AppConfig) { c.Database.Enabled = true }, "DSN is required"},
		{"zero_batch", func(c *AppConfig) { c.Ingest.BatchSize = 0 }, "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAppConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAppConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultAppConfig()
	cfg.Predictor.Name = "co-change"
	require.NoError(t, SaveAppConfig(cfg, path))

	loaded, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "co-change", loaded.Predictor.Name)
	assert.Equal(t, cfg.Backtest.Horizons, loaded.Backtest.Horizons)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a, ,b "))
	assert.Nil(t, SplitList(""))
}

func TestDefaultFiltersConfig_MatchesDefaultChain(t *testing.T) {
	profile, err := DefaultFiltersConfig().GetProfile("")
	require.NoError(t, err)

	chain, err := profile.BuildChain()
	require.NoError(t, err)
	assert.Equal(t, filter.DefaultChain().Names(), chain.Names())
}

func TestFilterProfile_BuildsFreshChains(t *testing.T) {
	profile, err := DefaultFiltersConfig().GetProfile("edit_wars")
	require.NoError(t, err)

	a, err := profile.BuildChain()
	require.NoError(t, err)
	b, err := profile.BuildChain()
	require.NoError(t, err)

	require.Len(t, a, 4)
	assert.NotSame(t, a[0], b[0])
	assert.Equal(t, "EditWarRevertFilter", a[1].Name())
}

func TestLoadFiltersConfig(t *testing.T) {
	path := writeFile(t, "filters.yaml", `
active_profile: strict
profiles:
  strict:
    description: updates only, projected
    filters:
      - type: only_updates
      - type: edit_war_reverts
        max_revert_age: 48h
      - type: projection
        attributes: [infobox_key, property_name, value_valid_from]
      - type: minimum_activity
        min_changes: 10
`)
	fc, err := LoadFiltersConfig(path)
	require.NoError(t, err)

	profile, err := fc.GetProfile("")
	require.NoError(t, err)
	require.Len(t, profile.Steps, 4)
	assert.Equal(t, 48*time.Hour, profile.Steps[1].MaxRevertAge)

	chain, err := profile.BuildChain()
	require.NoError(t, err)
	assert.Equal(t, []string{"OnlyUpdatesFilter", "EditWarRevertFilter", "AttributeProjectionFilter",
		"MinimumActivityFilter"}, chain.Names())

	ma, ok := chain[3].(*filter.MinimumActivity)
	require.True(t, ok)
	assert.Equal(t, 10, ma.Threshold())

	rp, ok := chain[1].(*filter.RevertPair)
	require.True(t, ok)
	assert.Equal(t, 48*time.Hour, rp.Policy().(filter.EditWarPolicy).MaxRevertAge)
}

func TestFilterProfile_Validate(t *testing.T) {
	profile := FilterProfile{Steps: []FilterStep{
		{Type: "shuffle"},
		{Type: StepProjection},
		{Type: StepProjection, Attributes: []string{"colour"}},
		{Type: StepMinimumActivity, MinChanges: -1},
	}}
	problems := profile.ValidateProfile()
	assert.Len(t, problems, 4)

	_, err := profile.BuildChain()
	assert.Error(t, err)
}

func TestGetProfile_Unknown(t *testing.T) {
	_, err := DefaultFiltersConfig().GetProfile("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = (&FiltersConfig{}).GetProfile("")
	assert.Error(t, err)
}

func TestResolveFilterProfile(t *testing.T) {
	cfg := DefaultAppConfig()
	p, err := cfg.ResolveFilterProfile("")
	require.NoError(t, err)
	assert.Len(t, p.Steps, 3)

	cfg.Filters.ProfilesPath = writeFile(t, "f.yaml", "profiles:\n  only:\n    filters:\n      - type: only_updates\n")
	p, err = cfg.ResolveFilterProfile("only")
	require.NoError(t, err)
	assert.Len(t, p.Steps, 1)
}

func TestShippedConfigFiles(t *testing.T) {
	cfg, err := LoadAppConfig(filepath.Join("..", "..", "config", "changecast.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Backtest.Horizons, 4)
	assert.Equal(t, 30*time.Second, cfg.Cache.Breaker.OpenTimeout)

	profiles, err := LoadFiltersConfig(filepath.Join("..", "..", "config", "filters.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "edit_wars", "none", "updates_only"}, profiles.ProfileNames())
	for _, name := range profiles.ProfileNames() {
		p, err := profiles.GetProfile(name)
		require.NoError(t, err)
		assert.Empty(t, p.ValidateProfile(), name)
		_, err = p.BuildChain()
		assert.NoError(t, err, name)
	}
}
