package filter

import "github.com/sawpanic/changecast/internal/changes"

// DefaultMinChanges is the default activity threshold of MinimumActivity.
const DefaultMinChanges = 5

// MinimumActivity drops whole property series with fewer than Threshold
// changes; near-static properties have no meaningful "next change".
type MinimumActivity struct {
	runFilter
	threshold int
}

// NewMinimumActivity creates the filter; a non-positive threshold uses the default.
func NewMinimumActivity(threshold int) *MinimumActivity {
	if threshold <= 0 {
		threshold = DefaultMinChanges
	}
	f := &MinimumActivity{threshold: threshold}
	f.runFilter = runFilter{
		name:    "MinimumActivityFilter",
		sameRun: changes.SameProperty,
		reduce:  f.reduceRun,
	}
	return f
}

// Threshold returns the minimum run length that is kept.
func (f *MinimumActivity) Threshold() int {
	return f.threshold
}

func (f *MinimumActivity) reduceRun(run []changes.ChangeEvent) []changes.ChangeEvent {
	if len(run) < f.threshold {
		return nil
	}
	return run
}
