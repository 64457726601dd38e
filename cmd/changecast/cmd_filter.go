package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/changecast/internal/config"
	"github.com/sawpanic/changecast/internal/filter"
	"github.com/sawpanic/changecast/internal/ingest"
	monitoring "github.com/sawpanic/changecast/internal/interfaces/http"
)

func newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Clean change event files with a filter profile",
		Long: `Applies the filters of a profile to every input file. Each file gets a
fresh chain; the per-file stats are merged into one filter-stats.txt.`,
		RunE: runFilter,
	}
	cmd.Flags().String("input", "", "Input file or directory of .jsonl/.csv files")
	cmd.Flags().String("output", "artifacts/filtered", "Output directory")
	cmd.Flags().String("profile", "", "Filter profile (defaults to the configured profile)")
	cmd.Flags().Int("workers", 4, "Files filtered in parallel")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runFilter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	profileName, _ := cmd.Flags().GetString("profile")
	workers, _ := cmd.Flags().GetInt("workers")
	if workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", workers)
	}

	profile, err := cfg.ResolveFilterProfile(profileName)
	if err != nil {
		return err
	}
	if problems := profile.ValidateProfile(); len(problems) > 0 {
		return fmt.Errorf("invalid filter profile: %s", strings.Join(problems, "; "))
	}

	files, err := inputFiles(input)
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetricsRegistry()
	timer := metrics.StartStepTimer("filter")

	merged, err := filterFiles(cmd, profile, files, output, workers)
	if err != nil {
		timer.Stop(monitoring.ResultError)
		return err
	}
	timer.Stop(monitoring.ResultSuccess)
	metrics.ObserveFilterChain(merged)

	path, err := filter.WriteReport(merged, output)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Filtered %d file(s) into %s\n\n%s\nStats: %s\n",
		len(files), output, filter.Report(merged), path)
	return nil
}

// filterFiles filters every file with its own chain and returns the merged chain.
func filterFiles(cmd *cobra.Command, profile *config.FilterProfile, files []string, output string, workers int) (filter.Chain, error) {
	chains := make([]filter.Chain, len(files))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chain, err := profile.BuildChain()
			if err != nil {
				return err
			}
			events, err := ingest.ReadFile(path)
			if err != nil {
				return err
			}
			kept := filter.Apply(events, chain)

			out := filepath.Join(output, outputName(path))
			if err := ingest.WriteFile(out, kept); err != nil {
				return err
			}
			log.Info().
				Str("file", path).
				Int("input", len(events)).
				Int("output", len(kept)).
				Msg("File filtered")
			chains[i] = chain
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := profile.BuildChain()
	if err != nil {
		return nil, err
	}
	if err := filter.MergeStats(merged, chains...); err != nil {
		return nil, err
	}
	return merged, nil
}

// inputFiles expands a file or directory argument into sorted event files.
func inputFiles(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if !info.IsDir() {
		return []string{input}, nil
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", input, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jsonl", ".ndjson", ".json", ".csv":
			files = append(files, filepath.Join(input, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .jsonl or .csv files in %s", input)
	}
	sort.Strings(files)
	return files, nil
}

func outputName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".jsonl"
}
