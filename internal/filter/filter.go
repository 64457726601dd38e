// Package filter cleans sorted change streams into analysis-ready records.
//
// Every filter works on a list sorted by (infobox_key, property_name,
// value_valid_from) and only scans contiguous runs; it never re-sorts.
package filter

import (
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/changecast/internal/changes"
)

// Filter is one stateful step of a filter chain. Its stats describe exactly
// one pass and must be reset before the instance is reused.
type Filter interface {
	Name() string
	Filter(events []changes.ChangeEvent, initial int) []changes.ChangeEvent
	Stats() *Stats
}

// RunPredicate decides whether two neighbouring events belong to the same run.
type RunPredicate func(a, b changes.ChangeEvent) bool

// ReduceFunc turns one run into its filtered replacement.
type ReduceFunc func(run []changes.ChangeEvent) []changes.ChangeEvent

// scanRuns splits events into maximal runs under sameRun and concatenates
// the reduced runs in input order.
func scanRuns(events []changes.ChangeEvent, sameRun RunPredicate, reduce ReduceFunc) []changes.ChangeEvent {
	out := make([]changes.ChangeEvent, 0, len(events))
	start := 0
	for end := 1; end <= len(events); end++ {
		if end < len(events) && sameRun(events[start], events[end]) {
			continue
		}
		out = append(out, reduce(events[start:end])...)
		start = end
	}
	return out
}

// beginPass warns when stats from an earlier pass are about to be overwritten.
func beginPass(name string, stats *Stats) {
	if stats.IsSet() {
		log.Warn().
			Str("filter", name).
			Int("previous_input", stats.Input).
			Msg("Using a filter whose stats are not reset, stats will be overwritten")
	}
}

// runFilter carries the pass bookkeeping shared by run based filters.
type runFilter struct {
	name    string
	stats   Stats
	sameRun RunPredicate
	reduce  ReduceFunc
}

func (f *runFilter) Name() string  { return f.name }
func (f *runFilter) Stats() *Stats { return &f.stats }

func (f *runFilter) Filter(events []changes.ChangeEvent, initial int) []changes.ChangeEvent {
	beginPass(f.name, &f.stats)
	out := scanRuns(events, f.sameRun, f.reduce)
	f.stats.Record(initial, len(events), len(out))

	log.Debug().
		Str("filter", f.name).
		Int("input", len(events)).
		Int("output", len(out)).
		Msg("Filter pass completed")
	return out
}
