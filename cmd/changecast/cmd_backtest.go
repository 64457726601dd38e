package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/changecast/internal/backtest"
	"github.com/sawpanic/changecast/internal/changes"
	"github.com/sawpanic/changecast/internal/config"
	"github.com/sawpanic/changecast/internal/evaluation"
	"github.com/sawpanic/changecast/internal/filter"
	"github.com/sawpanic/changecast/internal/infrastructure/db"
	"github.com/sawpanic/changecast/internal/ingest"
	monitoring "github.com/sawpanic/changecast/internal/interfaces/http"
	"github.com/sawpanic/changecast/internal/persistence"
	"github.com/sawpanic/changecast/internal/predictor"
)

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a test window against a predictor",
		Long: `Fits the predictor on every event before the test window, replays the
window day by day per group key and scores the predictions per horizon.
Artifacts are written to <output>/<date>/<run-id>/.`,
		RunE: runBacktest,
	}
	cmd.Flags().AddFlagSet(backtestFlags())
	cmd.MarkFlagsMutuallyExclusive("input", "from-db")
	cmd.MarkFlagsOneRequired("input", "from-db")
	return cmd
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyBacktestFlags(cmd.Flags(), cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	btConfig, err := cfg.BacktestConfig()
	if err != nil {
		return err
	}
	absOutput, err := filepath.Abs(btConfig.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	btConfig.OutputDir = absOutput

	ctx := cmd.Context()
	fromDB, _ := cmd.Flags().GetBool("from-db")

	var manager *db.Manager
	if fromDB || cfg.Database.Enabled {
		cfg.Database.Enabled = true
		manager, err = db.NewManager(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer manager.Close()
	}

	events, err := loadBacktestEvents(ctx, cmd, manager, btConfig, fromDB)
	if err != nil {
		return err
	}
	if cfg.Backtest.OnlyUpdates {
		events = updatesOnly(events)
	}

	cache := predictor.NewAutoCache(ctx, cfg.CacheConfig())
	p, err := predictor.ByName(cfg.Predictor.Name, cfg.PredictorOptions(cache))
	if err != nil {
		return err
	}

	monitor := monitoring.NewMonitor(monitoring.NewMetricsRegistry(), monitoring.NewHub())
	monitor.Begin("", 0)

	serve := cmd.Flags().Changed("listen")
	serveCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverDone := make(chan error, 1)
	if serve {
		var health persistence.RepositoryHealth
		if manager != nil {
			health = manager.Health()
		}
		server := monitoring.NewServer(serverConfig(cfg), monitor, health, version)
		go func() { serverDone <- server.ListenAndServe(serveCtx) }()
	} else {
		close(serverDone)
	}

	log.Info().
		Str("predictor", p.Name()).
		Time("test_start", btConfig.TestStartDay()).
		Int("duration_days", btConfig.TestDuration).
		Strs("group_key", btConfig.KeyColumns).
		Int("events", len(events)).
		Str("output_dir", absOutput).
		Msg("Starting backtest")

	engine := backtest.NewEngine(btConfig, p)
	engine.SetProgressSink(monitor)
	engine.SetStepObserver(monitor.Metrics().ObserveStep)

	timer := monitor.Metrics().StartStepTimer("backtest")
	results, err := engine.Run(ctx, events)
	if err != nil {
		timer.Stop(monitoring.ResultError)
		return fmt.Errorf("backtest failed: %w", err)
	}
	timer.Stop(monitoring.ResultSuccess)

	writer := backtest.NewWriter(absOutput, results.RunID, results.StartTime)
	paths, err := writer.WriteAll(results)
	if err != nil {
		return err
	}
	monitor.Finish(results, writer.NewSummary(results))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backtest %s (%s): %d of %d keys replayed in %v\n\n",
		results.RunID, results.Predictor, results.ReplayedKeys, results.TotalKeys, results.Duration())
	if err := evaluation.Render(out, results.Horizons); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nArtifacts: %s\n", paths.OutputDir)

	if !serve {
		return nil
	}
	if keep, _ := cmd.Flags().GetBool("keep-serving"); keep {
		fmt.Fprintf(out, "Serving results on %s, interrupt to stop\n", cfg.Server.Listen)
		<-ctx.Done()
	}
	stopServer()
	if err := <-serverDone; err != nil {
		return fmt.Errorf("monitoring server: %w", err)
	}
	return nil
}

// loadBacktestEvents reads the file given by --input or, with --from-db,
// everything before the end of the test window from the store.
func loadBacktestEvents(ctx context.Context, cmd *cobra.Command, manager *db.Manager, cfg *backtest.Config, fromDB bool) ([]changes.ChangeEvent, error) {
	if fromDB {
		if manager == nil || !manager.IsEnabled() {
			return nil, errors.New("--from-db requires a database connection")
		}
		events, err := manager.Events().ListSorted(ctx, persistence.TimeRange{To: cfg.TestEnd()})
		if err != nil {
			return nil, fmt.Errorf("failed to load events from database: %w", err)
		}
		return events, nil
	}

	input, _ := cmd.Flags().GetString("input")
	return ingest.ReadFile(input)
}

// updatesOnly keeps UPDATE events, so creations and deletions never count as
// change labels.
func updatesOnly(events []changes.ChangeEvent) []changes.ChangeEvent {
	chain := filter.Chain{filter.NewOnlyUpdates()}
	out := filter.Apply(events, chain)
	stats := chain[0].Stats()
	log.Info().
		Int("events", stats.Input).
		Int("removed", stats.Removed()).
		Msg("Non-update edits dropped")
	return out
}

func serverConfig(cfg *config.AppConfig) monitoring.ServerConfig {
	sc := monitoring.DefaultServerConfig()
	if cfg.Server.Listen != "" {
		sc.Addr = cfg.Server.Listen
	}
	if cfg.Server.ReadTimeout > 0 {
		sc.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.IdleTimeout > 0 {
		sc.IdleTimeout = cfg.Server.IdleTimeout
	}
	return sc
}
