package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/sawpanic/changecast/internal/config"
)

// backtestFlags returns the flag set shared by the backtest command and its
// tests. Flags only override the configuration when set explicitly.
func backtestFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("backtest", pflag.ContinueOnError)
	fs.String("input", "", "Change events file (.jsonl or .csv)")
	fs.Bool("from-db", false, "Read change events from Postgres instead of a file")
	fs.String("predictor", "", "Predictor name")
	fs.String("test-start", "", "First day of the test window (YYYY-MM-DD)")
	fs.Int("duration", 0, "Test window length in days")
	fs.String("group-key", "", "Comma separated group key columns")
	fs.Int("workers", 0, "Parallel key workers")
	fs.Float64("subset", 0, "Fraction of keys to replay, (0,1]")
	fs.Bool("randomize", false, "Shuffle key order before replay")
	fs.Int64("seed", 0, "Shuffle seed")
	fs.Bool("estimate", false, "Publish running estimates every 10% of keys")
	fs.String("progress", "", "Progress output mode (auto|bar|plain|none)")
	fs.String("output", "", "Artifact output directory")
	fs.String("listen", "", "Serve monitoring endpoints on this address during the run")
	fs.Bool("all-edits", false, "Keep CREATE and DELETE events instead of replaying updates only")
	fs.Bool("keep-serving", false, "Keep the monitoring server up after the run until interrupted")
	return fs
}

// applyBacktestFlags copies explicitly set flags over cfg.
func applyBacktestFlags(fs *pflag.FlagSet, cfg *config.AppConfig) error {
	var err error
	visit := func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "predictor":
			cfg.Predictor.Name = f.Value.String()
		case "test-start":
			cfg.Backtest.TestStart = f.Value.String()
		case "duration":
			cfg.Backtest.DurationDays, err = fs.GetInt(f.Name)
		case "group-key":
			cfg.Backtest.KeyColumns = config.SplitList(f.Value.String())
		case "workers":
			cfg.Backtest.Workers, err = fs.GetInt(f.Name)
		case "subset":
			cfg.Backtest.PredictSubset, err = fs.GetFloat64(f.Name)
		case "randomize":
			cfg.Backtest.Randomize, err = fs.GetBool(f.Name)
		case "seed":
			cfg.Backtest.Seed, err = fs.GetInt64(f.Name)
		case "estimate":
			cfg.Backtest.EstimateStats, err = fs.GetBool(f.Name)
		case "progress":
			cfg.Backtest.Progress = f.Value.String()
		case "output":
			cfg.Backtest.OutputDir = f.Value.String()
		case "listen":
			cfg.Server.Listen = f.Value.String()
		case "all-edits":
			var all bool
			all, err = fs.GetBool(f.Name)
			cfg.Backtest.OnlyUpdates = !all
		}
		if err != nil {
			err = fmt.Errorf("--%s: %w", f.Name, err)
		}
	}
	fs.Visit(visit)
	return err
}

// ingestFlags returns the flags of the ingest command.
func ingestFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	fs.String("input", "", "Change events file (.jsonl or .csv)")
	fs.String("dsn", "", "Postgres DSN (overrides config and PG_DSN)")
	fs.Int("batch-size", 0, "Events per insert batch")
	fs.Float64("rate", 0, "Insert batches per second, 0 for unpaced")
	return fs
}

// applyIngestFlags copies explicitly set flags over cfg. A DSN enables the
// database.
func applyIngestFlags(fs *pflag.FlagSet, cfg *config.AppConfig) error {
	if fs.Changed("dsn") {
		dsn, _ := fs.GetString("dsn")
		cfg.Database.DSN = dsn
		cfg.Database.Enabled = true
	}
	if fs.Changed("batch-size") {
		n, err := fs.GetInt("batch-size")
		if err != nil {
			return err
		}
		cfg.Ingest.BatchSize = n
	}
	if fs.Changed("rate") {
		r, err := fs.GetFloat64("rate")
		if err != nil {
			return err
		}
		cfg.Ingest.RatePerSecond = r
	}
	return nil
}
