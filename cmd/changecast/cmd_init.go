package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sawpanic/changecast/internal/config"
)

func newInitConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration and filter profiles",
		RunE:  runInitConfig,
	}
	cmd.Flags().String("dir", "config", "Directory for changecast.yaml and filters.yaml")
	cmd.Flags().Bool("force", false, "Overwrite existing files")
	return cmd
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	force, _ := cmd.Flags().GetBool("force")

	appPath := filepath.Join(dir, "changecast.yaml")
	filtersPath := filepath.Join(dir, "filters.yaml")
	if !force {
		for _, p := range []string{appPath, filtersPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists, use --force to overwrite", p)
			}
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := config.DefaultAppConfig()
	cfg.Filters.ProfilesPath = filtersPath
	if err := config.SaveAppConfig(cfg, appPath); err != nil {
		return err
	}
	if err := config.SaveFiltersConfig(config.DefaultFiltersConfig(), filtersPath); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", appPath, filtersPath)
	return nil
}
