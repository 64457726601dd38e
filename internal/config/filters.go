package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sawpanic/changecast/internal/changes"
	"github.com/sawpanic/changecast/internal/filter"
)

// Filter step types accepted in filter profiles.
const (
	StepBotReverts      = "bot_reverts"
	StepEditWarReverts  = "edit_war_reverts"
	StepMajorityPerDay  = "majority_per_day"
	StepMinimumActivity = "minimum_activity"
	StepOnlyUpdates     = "only_updates"
	StepProjection      = "projection"
)

// FiltersConfig represents the filter chain profiles file
type FiltersConfig struct {
	Profiles map[string]FilterProfile `yaml:"profiles"`
	Active   string                   `yaml:"active_profile"`
}

// FilterProfile is a named, ordered filter chain
type FilterProfile struct {
	Description string       `yaml:"description"`
	Steps       []FilterStep `yaml:"filters"`
}

// FilterStep configures one filter of a chain
type FilterStep struct {
	Type         string        `yaml:"type"`
	MinChanges   int           `yaml:"min_changes,omitempty"`    // minimum_activity
	MaxRevertAge time.Duration `yaml:"max_revert_age,omitempty"` // edit_war_reverts
	Attributes   []string      `yaml:"attributes,omitempty"`     // projection
}

// DefaultFiltersConfig returns the built-in profiles. "default" matches
// filter.DefaultChain.
func DefaultFiltersConfig() *FiltersConfig {
	return &FiltersConfig{
		Active: "default",
		Profiles: map[string]FilterProfile{
			"default": {
				Description: "bot reverts, daily majority, at least 5 changes",
				Steps: []FilterStep{
					{Type: StepBotReverts},
					{Type: StepMajorityPerDay},
					{Type: StepMinimumActivity, MinChanges: filter.DefaultMinChanges},
				},
			},
			"edit_wars": {
				Description: "default chain with edit wars removed as well",
				Steps: []FilterStep{
					{Type: StepBotReverts},
					{Type: StepEditWarReverts, MaxRevertAge: filter.DefaultMaxRevertAge},
					{Type: StepMajorityPerDay},
					{Type: StepMinimumActivity, MinChanges: filter.DefaultMinChanges},
				},
			},
			"none": {
				Description: "pass events through unchanged",
			},
		},
	}
}

// LoadFiltersConfig loads filter profiles from file
func LoadFiltersConfig(configPath string) (*FiltersConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read filters config: %w", err)
	}

	var config FiltersConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse filters YAML: %w", err)
	}

	return &config, nil
}

// SaveFiltersConfig saves filter profiles to file
func SaveFiltersConfig(config *FiltersConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal filters config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write filters config: %w", err)
	}

	return nil
}

// ProfileNames lists the configured profiles in name order.
func (fc *FiltersConfig) ProfileNames() []string {
	names := make([]string, 0, len(fc.Profiles))
	for name := range fc.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetProfile returns the named profile, or the active one when name is empty.
func (fc *FiltersConfig) GetProfile(name string) (*FilterProfile, error) {
	if name == "" {
		name = fc.Active
	}
	if name == "" {
		return nil, fmt.Errorf("no active profile set")
	}

	profile, exists := fc.Profiles[name]
	if !exists {
		return nil, fmt.Errorf("filter profile '%s' not found (available: %v)", name, fc.ProfileNames())
	}

	return &profile, nil
}

// ValidateProfile lists every problem found in the profile.
func (fp *FilterProfile) ValidateProfile() []string {
	var errors []string

	for i, step := range fp.Steps {
		switch step.Type {
		case StepBotReverts, StepMajorityPerDay, StepOnlyUpdates:
		case StepMinimumActivity:
			if step.MinChanges < 0 {
				errors = append(errors, fmt.Sprintf("step %d: min_changes %d cannot be negative", i, step.MinChanges))
			}
		case StepEditWarReverts:
			if step.MaxRevertAge < 0 {
				errors = append(errors, fmt.Sprintf("step %d: max_revert_age %v cannot be negative", i, step.MaxRevertAge))
			}
		case StepProjection:
			if len(step.Attributes) == 0 {
				errors = append(errors, fmt.Sprintf("step %d: projection needs at least one attribute", i))
			}
			probe := changes.ChangeEvent{}
			for _, attr := range step.Attributes {
				if _, ok := probe.Attribute(attr); !ok {
					errors = append(errors, fmt.Sprintf("step %d: unknown attribute %q", i, attr))
				}
			}
		default:
			errors = append(errors, fmt.Sprintf("step %d: unknown filter type %q", i, step.Type))
		}
	}

	return errors
}

// BuildChain creates a fresh chain for the profile. Every call returns new
// filters with empty stats.
func (fp *FilterProfile) BuildChain() (filter.Chain, error) {
	if problems := fp.ValidateProfile(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid filter profile: %v", problems)
	}

	chain := make(filter.Chain, 0, len(fp.Steps))
	for _, step := range fp.Steps {
		switch step.Type {
		case StepBotReverts:
			chain = append(chain, filter.NewBotReverts())
		case StepEditWarReverts:
			chain = append(chain, filter.NewEditWarReverts(step.MaxRevertAge))
		case StepMajorityPerDay:
			chain = append(chain, filter.NewMajorityValuePerDay())
		case StepMinimumActivity:
			chain = append(chain, filter.NewMinimumActivity(step.MinChanges))
		case StepOnlyUpdates:
			chain = append(chain, filter.NewOnlyUpdates())
		case StepProjection:
			chain = append(chain, filter.NewAttributeProjection(changes.NewAttributeSet(step.Attributes...)))
		}
	}
	return chain, nil
}
