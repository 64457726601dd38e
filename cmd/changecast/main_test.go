package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/changecast/internal/backtest"
	"github.com/sawpanic/changecast/internal/changes"
	"github.com/sawpanic/changecast/internal/config"
	"github.com/sawpanic/changecast/internal/filter"
	"github.com/sawpanic/changecast/internal/ingest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "warn"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func everyThreeDays(key string, from time.Time, days int) []changes.ChangeEvent {
	var events []changes.ChangeEvent
	for d := 0; d < days; d += 3 {
		events = append(events, changes.ChangeEvent{
			InfoboxKey:     key,
			PropertyName:   "population",
			CurrentValue:   key,
			ValueValidFrom: from.AddDate(0, 0, d),
			EditType:       changes.EditUpdate,
			Username:       "editor",
		})
	}
	return events
}

func TestApplyBacktestFlags_OnlyChanged(t *testing.T) {
	cfg := config.DefaultAppConfig()
	fs := backtestFlags()
	require.NoError(t, fs.Parse([]string{
		"--predictor", "periodic",
		"--test-start", "2020-01-01",
		"--duration", "30",
		"--group-key", "infobox_key, property_name,template",
		"--subset", "0.5",
		"--estimate",
		"--listen", "127.0.0.1:9999",
	}))
	require.NoError(t, applyBacktestFlags(fs, cfg))

	assert.Equal(t, "periodic", cfg.Predictor.Name)
	assert.Equal(t, "2020-01-01", cfg.Backtest.TestStart)
	assert.Equal(t, 30, cfg.Backtest.DurationDays)
	assert.Equal(t, []string{"infobox_key", "property_name", "template"}, cfg.Backtest.KeyColumns)
	assert.Equal(t, 0.5, cfg.Backtest.PredictSubset)
	assert.True(t, cfg.Backtest.EstimateStats)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
	assert.True(t, cfg.Backtest.OnlyUpdates)

	require.NoError(t, fs.Parse([]string{"--all-edits"}))
	require.NoError(t, applyBacktestFlags(fs, cfg))
	assert.False(t, cfg.Backtest.OnlyUpdates)

	defaults := config.DefaultAppConfig()
	assert.Equal(t, defaults.Backtest.Workers, cfg.Backtest.Workers)
	assert.Equal(t, defaults.Backtest.OutputDir, cfg.Backtest.OutputDir)
}

func TestApplyIngestFlags_DSNEnablesDatabase(t *testing.T) {
	cfg := config.DefaultAppConfig()
	fs := ingestFlags()
	require.NoError(t, fs.Parse([]string{"--dsn", "postgres://localhost/changes", "--batch-size", "50"}))
	require.NoError(t, applyIngestFlags(fs, cfg))

	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres://localhost/changes", cfg.Database.DSN)
	assert.Equal(t, 50, cfg.Ingest.BatchSize)
	assert.Equal(t, config.DefaultAppConfig().Ingest.RatePerSecond, cfg.Ingest.RatePerSecond)
}

func TestInputFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jsonl", "a.csv", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jsonl"), 0755))

	files, err := inputFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.jsonl")}, files)

	files, err = inputFiles(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = inputFiles(filepath.Join(dir, "sub.jsonl"))
	assert.Error(t, err)

	assert.Equal(t, "a.jsonl", outputName("/x/a.csv"))
}

func TestFilterCommand(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "filtered")
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	active := everyThreeDays("busy", start, 60)
	quiet := everyThreeDays("quiet", start, 6)
	require.NoError(t, ingest.WriteFile(filepath.Join(in, "part-0.jsonl"), append(active, quiet...)))
	require.NoError(t, ingest.WriteFile(filepath.Join(in, "part-1.jsonl"), everyThreeDays("other", start, 30)))

	stdout, err := execute(t, "filter", "--input", in, "--output", out, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Filtered 2 file(s)")
	assert.Contains(t, stdout, "=== MinimumActivityFilter ===")

	kept, err := ingest.ReadFile(filepath.Join(out, "part-0.jsonl"))
	require.NoError(t, err)
	assert.Len(t, kept, len(active))

	_, err = os.Stat(filepath.Join(out, filter.ReportFile))
	assert.NoError(t, err)
}

func TestBacktestCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "events.jsonl")
	output := filepath.Join(dir, "out")
	start := time.Date(2019, 10, 1, 0, 0, 0, 0, time.UTC)

	events := append(everyThreeDays("a", start, 120), everyThreeDays("b", start, 120)...)
	require.NoError(t, ingest.WriteFile(input, events))

	stdout, err := execute(t, "backtest",
		"--input", input,
		"--predictor", "mean-interval",
		"--test-start", "2020-01-01",
		"--duration", "21",
		"--workers", "2",
		"--estimate",
		"--progress", "none",
		"--output", output,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "2 of 2 keys replayed")
	assert.Contains(t, stdout, "day")

	summaryPath, err := backtest.FindLatestSummary(output)
	require.NoError(t, err)
	summary, err := backtest.ReadSummary(summaryPath)
	require.NoError(t, err)
	assert.Equal(t, "mean-interval", summary.Predictor)
	assert.Equal(t, 2, summary.Keys)
}

func TestBacktestCommand_ReplaysUpdatesOnly(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "events.jsonl")
	start := time.Date(2019, 10, 1, 0, 0, 0, 0, time.UTC)

	created := everyThreeDays("c", start, 120)
	for i := range created {
		created[i].EditType = changes.EditCreate
	}
	events := append(everyThreeDays("a", start, 120), everyThreeDays("b", start, 120)...)
	require.NoError(t, ingest.WriteFile(input, append(events, created...)))

	args := []string{"backtest",
		"--input", input,
		"--predictor", "zero",
		"--test-start", "2020-01-01",
		"--duration", "7",
		"--progress", "none",
		"--output", filepath.Join(dir, "out"),
	}
	stdout, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "2 of 2 keys replayed")

	stdout, err = execute(t, append(args, "--all-edits")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 of 3 keys replayed")
}

func TestInitConfigCommand(t *testing.T) {
	dir := t.TempDir()
	stdout, err := execute(t, "init-config", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "changecast.yaml")

	cfg, err := config.LoadAppConfig(filepath.Join(dir, "changecast.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Backtest.OnlyUpdates)
	assert.Equal(t, filepath.Join(dir, "filters.yaml"), cfg.Filters.ProfilesPath)

	profiles, err := config.LoadFiltersConfig(filepath.Join(dir, "filters.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultFiltersConfig().ProfileNames(), profiles.ProfileNames())

	_, err = execute(t, "init-config", "--dir", dir)
	assert.Error(t, err)
	_, err = execute(t, "init-config", "--dir", dir, "--force")
	assert.NoError(t, err)
}

func TestBacktestCommand_RequiresInput(t *testing.T) {
	_, err := execute(t, "backtest", "--predictor", "zero")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	stdout, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, appName+" "+version+"\n", stdout)
}
