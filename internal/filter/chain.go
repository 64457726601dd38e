package filter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/changecast/internal/changes"
)

// ReportFile is the name of the stats report written next to filtered output.
const ReportFile = "filter-stats.txt"

// ErrChainMismatch is returned when stats of structurally different chains are merged.
var ErrChainMismatch = errors.New("filter chains do not match")

// Chain is an ordered list of filters applied one after another.
type Chain []Filter

// DefaultChain returns the standard cleaning chain: bot reverts, then one
// majority value per day, then minimum activity.
func DefaultChain() Chain {
	return Chain{
		NewBotReverts(),
		NewMajorityValuePerDay(),
		NewMinimumActivity(DefaultMinChanges),
	}
}

// Apply runs every filter of chain in order. The initial count passed to each
// filter is the size of the original input.
func Apply(events []changes.ChangeEvent, chain Chain) []changes.ChangeEvent {
	initial := len(events)
	if ev := log.Debug(); ev.Enabled() {
		if changes.IsSorted(events) {
			ev.Discard()
		} else {
			ev.Int("events", initial).Msg("Filter input is not sorted by infobox_key, property_name, value_valid_from; runs will be split")
		}
	}
	for _, f := range chain {
		events = f.Filter(events, initial)
	}
	return events
}

// Reset clears the stats of every filter in the chain.
func (c Chain) Reset() {
	for _, f := range c {
		f.Stats().Reset()
	}
}

// Names returns the filter names in chain order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, f := range c {
		names[i] = f.Name()
	}
	return names
}

// MergeStats sums the stats of structurally identical shard chains into target.
func MergeStats(target Chain, shards ...Chain) error {
	for n, shard := range shards {
		if len(shard) != len(target) {
			return fmt.Errorf("shard %d has %d filters, expected %d: %w",
				n, len(shard), len(target), ErrChainMismatch)
		}
		for i := range target {
			if shard[i].Name() != target[i].Name() {
				return fmt.Errorf("shard %d position %d is %s, expected %s: %w",
					n, i, shard[i].Name(), target[i].Name(), ErrChainMismatch)
			}
		}
	}
	for _, shard := range shards {
		for i := range target {
			target[i].Stats().Add(shard[i].Stats())
		}
	}
	return nil
}

// Report renders the stats of every filter in chain order. Inconsistent
// initial counts indicate a chain that was not applied in one go and are
// flagged in a header.
func Report(chain Chain) string {
	var b strings.Builder
	if !consistentInitial(chain) {
		b.WriteString("WARNING: initial number of changes differs between filters, stats are not comparable\n\n")
	}
	for _, f := range chain {
		fmt.Fprintf(&b, "=== %s ===\n", f.Name())
		b.WriteString(f.Stats().String())
		b.WriteString("\n")
	}
	return b.String()
}

func consistentInitial(chain Chain) bool {
	for i := 1; i < len(chain); i++ {
		if chain[i].Stats().Initial != chain[0].Stats().Initial {
			return false
		}
	}
	return true
}

// WriteReport writes Report(chain) into dir and returns the file path.
func WriteReport(chain Chain, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(path, []byte(Report(chain)), 0644); err != nil {
		return "", fmt.Errorf("failed to write filter report: %w", err)
	}
	log.Info().Str("path", path).Int("filters", len(chain)).Msg("Filter report written")
	return path, nil
}
