// Package config loads the application settings and the filter chain profiles.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/changecast/internal/backtest"
	"github.com/sawpanic/changecast/internal/evaluation"
	"github.com/sawpanic/changecast/internal/infrastructure/db"
	plog "github.com/sawpanic/changecast/internal/log"
	"github.com/sawpanic/changecast/internal/predictor"
)

// DateLayout is the format of dates in config files and flags.
const DateLayout = "2006-01-02"

// AppConfig represents the overall application configuration
type AppConfig struct {
	Backtest  BacktestSection  `yaml:"backtest"`
	Predictor PredictorSection `yaml:"predictor"`
	Database  db.Config        `yaml:"database"`
	Cache     CacheSection     `yaml:"cache"`
	Server    ServerSection    `yaml:"server"`
	Filters   FiltersSection   `yaml:"filters"`
	Ingest    IngestSection    `yaml:"ingest"`
}

// BacktestSection holds the replay settings
type BacktestSection struct {
	TestStart     string               `yaml:"test_start"`
	DurationDays  int                  `yaml:"duration_days"`
	KeyColumns    []string             `yaml:"key_columns"`
	Horizons      []evaluation.Horizon `yaml:"horizons"`
	Workers       int                  `yaml:"workers"`
	Randomize     bool                 `yaml:"randomize"`
	Seed          int64                `yaml:"seed"`
	PredictSubset float64              `yaml:"predict_subset"`
	EstimateStats bool                 `yaml:"estimate_stats"`
	Progress      string               `yaml:"progress"`
	OutputDir     string               `yaml:"output_dir"`
	// OnlyUpdates drops CREATE and DELETE events before fitting and replay.
	OnlyUpdates bool `yaml:"only_updates"`
}

// PredictorSection selects and tunes the predictor
type PredictorSection struct {
	Name       string  `yaml:"name"`
	MinHistory int     `yaml:"min_history"`
	MinOverlap float64 `yaml:"min_overlap"`
	MaxRelated int     `yaml:"max_related"`
}

// CacheSection holds model cache configuration
type CacheSection struct {
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Breaker struct {
		FailureThreshold uint32        `yaml:"failure_threshold"`
		OpenTimeout      time.Duration `yaml:"open_timeout"`
	} `yaml:"breaker"`
}

// ServerSection configures the monitoring server
type ServerSection struct {
	Listen      string        `yaml:"listen"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// FiltersSection points at the filter profiles file
type FiltersSection struct {
	ProfilesPath string `yaml:"profiles_path"`
	Profile      string `yaml:"profile"`
}

// IngestSection paces bulk loads into the event store
type IngestSection struct {
	BatchSize     int     `yaml:"batch_size"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// DefaultAppConfig returns a default application configuration
func DefaultAppConfig() *AppConfig {
	bt := backtest.DefaultConfig()
	opts := predictor.DefaultOptions()
	return &AppConfig{
		Backtest: BacktestSection{
			TestStart:     bt.TestStart.Format(DateLayout),
			DurationDays:  bt.TestDuration,
			KeyColumns:    bt.KeyColumns,
			Horizons:      bt.Horizons,
			Workers:       bt.Workers,
			PredictSubset: bt.PredictSubset,
			Progress:      string(bt.Progress),
			OutputDir:     bt.OutputDir,
			OnlyUpdates:   true,
		},
		Predictor: PredictorSection{
			Name:       "mean-interval",
			MinHistory: opts.MinHistory,
			MinOverlap: opts.MinOverlap,
			MaxRelated: opts.MaxRelated,
		},
		Database: db.DefaultConfig(),
		Server: ServerSection{
			Listen:      "127.0.0.1:8080",
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		Filters: FiltersSection{Profile: "default"},
		Ingest: IngestSection{
			BatchSize:     500,
			RatePerSecond: 20,
		},
	}
}

// LoadAppConfig loads configuration from a YAML file over the defaults and
// applies environment overrides. A missing file yields the defaults.
func LoadAppConfig(configPath string) (*AppConfig, error) {
	config := DefaultAppConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}

			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(config)
	config.Database.FillDefaults()

	return config, nil
}

// applyEnvOverrides applies CHANGECAST_*, PG_* and REDIS_* variables
func applyEnvOverrides(config *AppConfig) {
	if start := os.Getenv("CHANGECAST_TEST_START"); start != "" {
		config.Backtest.TestStart = start
	}

	if workers := os.Getenv("CHANGECAST_WORKERS"); workers != "" {
		if val, err := strconv.Atoi(workers); err == nil {
			config.Backtest.Workers = val
		}
	}

	if name := os.Getenv("CHANGECAST_PREDICTOR"); name != "" {
		config.Predictor.Name = name
	}

	if dir := os.Getenv("CHANGECAST_OUTPUT_DIR"); dir != "" {
		config.Backtest.OutputDir = dir
	}

	if cols := os.Getenv("CHANGECAST_GROUP_KEY"); cols != "" {
		config.Backtest.KeyColumns = SplitList(cols)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Cache.Redis.Addr = addr
	}

	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		config.Cache.Redis.Password = pw
	}

	db.ApplyEnvOverrides(&config.Database)
}

// SaveAppConfig saves the application configuration to a YAML file
func SaveAppConfig(config *AppConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}

// Validate validates the application configuration
func (c *AppConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	bt, err := c.BacktestConfig()
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if err := bt.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	if _, err := predictor.ByName(c.Predictor.Name, c.PredictorOptions(nil)); err != nil {
		return fmt.Errorf("predictor: %w", err)
	}
	if c.Predictor.MinOverlap < 0 || c.Predictor.MinOverlap > 1 {
		return fmt.Errorf("predictor: min_overlap must be in [0,1], got %v", c.Predictor.MinOverlap)
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest: batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.RatePerSecond < 0 {
		return fmt.Errorf("ingest: rate_per_second cannot be negative, got %v", c.Ingest.RatePerSecond)
	}

	return nil
}

// BacktestConfig converts the backtest section into an engine config.
func (c *AppConfig) BacktestConfig() (*backtest.Config, error) {
	cfg := backtest.DefaultConfig()

	if c.Backtest.TestStart != "" {
		start, err := time.Parse(DateLayout, c.Backtest.TestStart)
		if err != nil {
			return nil, fmt.Errorf("invalid test_start %q: %w", c.Backtest.TestStart, err)
		}
		cfg.TestStart = start
	}
	if c.Backtest.DurationDays != 0 {
		cfg.TestDuration = c.Backtest.DurationDays
	}
	if len(c.Backtest.KeyColumns) > 0 {
		cfg.KeyColumns = append([]string(nil), c.Backtest.KeyColumns...)
	}
	if len(c.Backtest.Horizons) > 0 {
		cfg.Horizons = append([]evaluation.Horizon(nil), c.Backtest.Horizons...)
	}
	if c.Backtest.Workers != 0 {
		cfg.Workers = c.Backtest.Workers
	}
	if c.Backtest.PredictSubset != 0 {
		cfg.PredictSubset = c.Backtest.PredictSubset
	}
	if c.Backtest.OutputDir != "" {
		cfg.OutputDir = c.Backtest.OutputDir
	}
	mode, err := plog.ParseMode(c.Backtest.Progress)
	if err != nil {
		return nil, err
	}
	cfg.Progress = mode
	cfg.Randomize = c.Backtest.Randomize
	cfg.Seed = c.Backtest.Seed
	cfg.EstimateStats = c.Backtest.EstimateStats

	return cfg, nil
}

// PredictorOptions converts the predictor section into registry options.
func (c *AppConfig) PredictorOptions(cache predictor.ModelCache) predictor.Options {
	return predictor.Options{
		MinHistory: c.Predictor.MinHistory,
		MinOverlap: c.Predictor.MinOverlap,
		MaxRelated: c.Predictor.MaxRelated,
		Cache:      cache,
	}
}

// CacheConfig converts the cache section.
func (c *AppConfig) CacheConfig() predictor.CacheConfig {
	return predictor.CacheConfig{
		Addr:             c.Cache.Redis.Addr,
		Password:         c.Cache.Redis.Password,
		DB:               c.Cache.Redis.DB,
		Prefix:           c.Cache.Redis.Prefix,
		FailureThreshold: c.Cache.Breaker.FailureThreshold,
		OpenTimeout:      c.Cache.Breaker.OpenTimeout,
	}
}

// ResolveFilterProfile returns the named profile, or the configured one when
// name is empty. Without a profiles file the built-in profiles are used.
func (c *AppConfig) ResolveFilterProfile(name string) (*FilterProfile, error) {
	profiles := DefaultFiltersConfig()
	if c.Filters.ProfilesPath != "" {
		loaded, err := LoadFiltersConfig(c.Filters.ProfilesPath)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	}
	if name == "" {
		name = c.Filters.Profile
	}
	return profiles.GetProfile(name)
}

// SplitList splits a comma separated flag or env value.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
