package backtest

import (
	"fmt"
	"time"

	"github.com/sawpanic/changecast/internal/changes"
	"github.com/sawpanic/changecast/internal/evaluation"
	plog "github.com/sawpanic/changecast/internal/log"
)

// Config represents backtest engine configuration
type Config struct {
	KeyColumns    []string             // Group key columns (default infobox_key, property_name)
	TestStart     time.Time            // First day of the test window
	TestDuration  int                  // Test window length in days (default 365)
	Horizons      []evaluation.Horizon // Prediction horizons (default day/week/month/year)
	Workers       int                  // Parallel key workers (default 1)
	Randomize     bool                 // Shuffle key order before replay
	Seed          int64                // Shuffle seed
	PredictSubset float64              // Fraction of keys replayed, (0,1]
	EstimateStats bool                 // Evaluate completed keys every 10%
	Progress      plog.Mode            // Progress display mode
	OutputDir     string               // Output directory for artifacts
}

// DefaultConfig returns the default backtest configuration
func DefaultConfig() *Config {
	return &Config{
		KeyColumns:    append([]string(nil), changes.DefaultKeyColumns...),
		TestStart:     time.Date(2018, 9, 1, 0, 0, 0, 0, time.UTC),
		TestDuration:  365,
		Horizons:      evaluation.DefaultHorizons(),
		Workers:       1,
		PredictSubset: 1,
		Progress:      plog.ModeAuto,
		OutputDir:     "./artifacts/backtest",
	}
}

// Validate checks the configuration before a run.
func (c *Config) Validate() error {
	if err := changes.ValidateKeyColumns(c.KeyColumns); err != nil {
		return err
	}
	if c.TestStart.IsZero() {
		return fmt.Errorf("test start must be set")
	}
	if c.TestDuration <= 0 {
		return fmt.Errorf("test duration must be positive, got %d", c.TestDuration)
	}
	if len(c.Horizons) == 0 {
		return fmt.Errorf("at least one horizon is required")
	}
	seen := make(map[int]bool, len(c.Horizons))
	for _, h := range c.Horizons {
		if h.Days <= 0 {
			return fmt.Errorf("horizon %q must be positive, got %d", h.Label, h.Days)
		}
		if seen[h.Days] {
			return fmt.Errorf("duplicate horizon of %d days", h.Days)
		}
		seen[h.Days] = true
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.PredictSubset <= 0 || c.PredictSubset > 1 {
		return fmt.Errorf("predict subset must be in (0,1], got %v", c.PredictSubset)
	}
	return nil
}

// TestStartDay returns the UTC day the test window starts on.
func (c *Config) TestStartDay() time.Time {
	return changes.Day(c.TestStart)
}

// TestEnd returns the exclusive end of the test window.
func (c *Config) TestEnd() time.Time {
	return c.TestStartDay().AddDate(0, 0, c.TestDuration)
}
