package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/changecast/internal/infrastructure/db"
	"github.com/sawpanic/changecast/internal/ingest"
)

// farFuture bounds CountBefore when counting the whole store.
var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load change events into Postgres",
		Long:  "Reads a .jsonl or .csv dump and inserts it into the change_events table in paced batches. Migrations run first.",
		RunE:  runIngest,
	}
	cmd.Flags().AddFlagSet(ingestFlags())
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyIngestFlags(cmd.Flags(), cfg); err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("database is disabled; set --dsn, PG_DSN with PG_ENABLED=true, or database.enabled")
	}
	cfg.Database.MigrateOnStart = true

	input, _ := cmd.Flags().GetString("input")
	events, err := ingest.ReadFile(input)
	if err != nil {
		return err
	}
	log.Info().Str("file", input).Int("events", len(events)).Msg("Change events read")

	ctx := cmd.Context()
	manager, err := db.NewManager(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer manager.Close()

	loader := ingest.NewLoader(manager.Events(), cfg.Ingest.BatchSize, cfg.Ingest.RatePerSecond)
	stats, err := loader.Load(ctx, events)
	if err != nil {
		return fmt.Errorf("ingest failed after %d events: %w", stats.Inserted, err)
	}

	total, err := manager.Events().CountBefore(ctx, farFuture)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count stored events")
	}
	keys, err := manager.Events().ListKeys(ctx, cfg.Backtest.KeyColumns)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list stored keys")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d of %d events (%d duplicates skipped) in %d batches; store holds %d events over %d keys\n",
		stats.Inserted, stats.Events, stats.Duplicates, stats.Batches, total, len(keys))
	return nil
}
