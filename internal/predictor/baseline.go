package predictor

import (
	"context"
	"time"

	"github.com/sawpanic/changecast/internal/changes"
)

// Zero never predicts a change.
type Zero struct{}

func (Zero) Name() string                 { return "zero" }
func (Zero) RelevantAttributes() []string { return nil }

func (Zero) Fit(context.Context, []changes.ChangeEvent, time.Time, []string) error {
	return nil
}

func (Zero) RelevantKeys(key changes.GroupKey) []changes.GroupKey {
	return []changes.GroupKey{key}
}

func (Zero) PredictTimeframe([]changes.ChangeEvent, []changes.ChangeEvent, time.Time, int) bool {
	return false
}

// MeanInterval extrapolates the next change from the mean gap between the
// visible changes of the target key.
type MeanInterval struct {
	Zero
}

func (MeanInterval) Name() string { return "mean-interval" }

func (MeanInterval) RelevantAttributes() []string {
	return []string{changes.ColValueValidFrom}
}

// PredictTimeframe reports a change when the extrapolated day falls before the
// end of the horizon. Overdue changes count as imminent.
func (MeanInterval) PredictTimeframe(target, _ []changes.ChangeEvent, asOf time.Time, horizonDays int) bool {
	next, ok := NextChange(target)
	if !ok {
		return false
	}
	return changes.Day(next).Before(horizonEnd(asOf, horizonDays))
}

// NextChange returns the last change time plus the mean interval between
// changes. At least two changes are needed.
func NextChange(history []changes.ChangeEvent) (time.Time, bool) {
	if len(history) < 2 {
		return time.Time{}, false
	}
	first := history[0].ValueValidFrom
	last := history[len(history)-1].ValueValidFrom
	mean := last.Sub(first) / time.Duration(len(history)-1)
	return last.Add(mean), true
}
