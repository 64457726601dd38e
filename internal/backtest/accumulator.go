package backtest

import (
	"sync"

	"github.com/sawpanic/changecast/internal/evaluation"
)

// Accumulator collects per-key replay results from concurrent workers. It is
// the only state shared between keys.
type Accumulator struct {
	mu sync.RWMutex

	horizons  []evaluation.Horizon
	results   []evaluation.KeyResult
	done      []bool
	completed int
	estimates []Estimate
}

// NewAccumulator creates an accumulator for total keys.
func NewAccumulator(horizons []evaluation.Horizon, total int) *Accumulator {
	return &Accumulator{
		horizons: horizons,
		results:  make([]evaluation.KeyResult, total),
		done:     make([]bool, total),
	}
}

// Record stores the result of key index i and returns the number of
// completed keys.
func (a *Accumulator) Record(i int, res evaluation.KeyResult) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.results[i] = res
	if !a.done[i] {
		a.done[i] = true
		a.completed++
	}
	return a.completed
}

// Completed returns the number of recorded keys.
func (a *Accumulator) Completed() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.completed
}

// Snapshot returns an evaluation input over the completed keys, in key order.
// Results are values, so later records never change a snapshot.
func (a *Accumulator) Snapshot() evaluation.Input {
	a.mu.RLock()
	defer a.mu.RUnlock()

	in := evaluation.Input{
		Horizons: a.horizons,
		Keys:     make([]evaluation.KeyResult, 0, a.completed),
	}
	for i, ok := range a.done {
		if ok {
			in.Keys = append(in.Keys, a.results[i])
		}
	}
	return in
}

// AddEstimate keeps a running estimate for the final report.
func (a *Accumulator) AddEstimate(e Estimate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.estimates = append(a.estimates, e)
}

// Estimates returns a copy of the recorded running estimates.
func (a *Accumulator) Estimates() []Estimate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Estimate(nil), a.estimates...)
}
