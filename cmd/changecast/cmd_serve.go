package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/changecast/internal/backtest"
	"github.com/sawpanic/changecast/internal/infrastructure/db"
	monitoring "github.com/sawpanic/changecast/internal/interfaces/http"
	"github.com/sawpanic/changecast/internal/persistence"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve monitoring endpoints over the latest backtest results",
		Long:  "Starts the read-only monitoring server with /health, /metrics, /progress, /results and /ws/progress.",
		RunE:  runServe,
	}
	cmd.Flags().String("results", "", "Backtest output directory (defaults to backtest.output_dir)")
	cmd.Flags().String("listen", "", "Listen address (defaults to server.listen)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	resultsDir, _ := cmd.Flags().GetString("results")
	if resultsDir == "" {
		resultsDir = cfg.Backtest.OutputDir
	}

	ctx := cmd.Context()
	monitor := monitoring.NewMonitor(monitoring.NewMetricsRegistry(), monitoring.NewHub())

	if path, err := backtest.FindLatestSummary(resultsDir); err != nil {
		log.Warn().Err(err).Msg("No results to serve yet")
	} else {
		summary, err := backtest.ReadSummary(path)
		if err != nil {
			return err
		}
		monitor.SetSummary(summary)
		log.Info().Str("run_id", summary.RunID).Str("path", path).Msg("Serving backtest summary")
	}

	var health persistence.RepositoryHealth
	if cfg.Database.Enabled {
		manager, err := db.NewManager(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer manager.Close()
		health = manager.Health()
	}

	server := monitoring.NewServer(serverConfig(cfg), monitor, health, version)
	return server.ListenAndServe(ctx)
}
