package filter

import "github.com/sawpanic/changecast/internal/changes"

// MajorityValuePerDay collapses same-day edits of one property into a single
// representative change carrying the day's most frequent value.
type MajorityValuePerDay struct {
	runFilter
}

// NewMajorityValuePerDay creates the filter.
func NewMajorityValuePerDay() *MajorityValuePerDay {
	f := &MajorityValuePerDay{}
	f.runFilter = runFilter{
		name:    "MajorityValuePerDayFilter",
		sameRun: changes.SamePropertyDay,
		reduce:  majorityOfDay,
	}
	return f
}

// majorityOfDay picks the latest event whose value reaches the maximum count
// and stretches it over the whole run.
func majorityOfDay(run []changes.ChangeEvent) []changes.ChangeEvent {
	if len(run) == 1 {
		return run
	}

	counts := make(map[string]int, len(run))
	maxCount := 0
	for _, e := range run {
		counts[e.CurrentValue]++
		if counts[e.CurrentValue] > maxCount {
			maxCount = counts[e.CurrentValue]
		}
	}

	chosen := len(run) - 1
	for i := len(run) - 1; i >= 0; i-- {
		if counts[run[i].CurrentValue] == maxCount {
			chosen = i
			break
		}
	}

	representative := run[chosen].Clone()
	representative.ValueValidFrom = run[0].ValueValidFrom
	representative.ValueValidTo = changes.CloneTime(run[len(run)-1].ValueValidTo)
	representative.NumChanges = len(run)
	return []changes.ChangeEvent{representative}
}
