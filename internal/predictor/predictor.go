// Package predictor defines the contract the backtest engine drives and a set
// of reference predictors.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/changecast/internal/changes"
)

// ErrUnknownPredictor is returned by ByName for unregistered names.
var ErrUnknownPredictor = errors.New("unknown predictor")

// Predictor answers "does the key change within the next h days" questions.
//
// Fit is called once per backtest with the events before the test window.
// Models may only be written during Fit; PredictTimeframe is called
// concurrently for different keys and must only read.
type Predictor interface {
	Name() string
	// RelevantAttributes lists the columns the predictor reads.
	RelevantAttributes() []string
	Fit(ctx context.Context, train []changes.ChangeEvent, cutoff time.Time, keyColumns []string) error
	// RelevantKeys returns the keys whose history may be consulted for key,
	// possibly including key itself. It must be a pure function of key.
	RelevantKeys(key changes.GroupKey) []changes.GroupKey
	// PredictTimeframe sees target events before asOf and related events
	// before asOf + horizonDays.
	PredictTimeframe(target, related []changes.ChangeEvent, asOf time.Time, horizonDays int) bool
}

// Options configures predictors created by ByName.
type Options struct {
	MinHistory int
	MinOverlap float64
	MaxRelated int
	Cache      ModelCache
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		MinHistory: 3,
		MinOverlap: 0.5,
		MaxRelated: 5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinHistory <= 0 {
		o.MinHistory = d.MinHistory
	}
	if o.MinOverlap <= 0 {
		o.MinOverlap = d.MinOverlap
	}
	if o.MaxRelated <= 0 {
		o.MaxRelated = d.MaxRelated
	}
	return o
}

type factory func(Options) Predictor

var registry = map[string]factory{
	"zero":          func(Options) Predictor { return Zero{} },
	"mean-interval": func(Options) Predictor { return MeanInterval{} },
	"periodic": func(o Options) Predictor {
		return NewPeriodic(o.MinHistory, o.Cache)
	},
	"co-change": func(o Options) Predictor {
		return NewCoChange(o.MinHistory, o.MinOverlap, o.MaxRelated)
	},
}

// ByName creates a registered predictor.
func ByName(name string, opts Options) (Predictor, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownPredictor, name, Names())
	}
	return f(opts.withDefaults()), nil
}

// Names lists the registered predictor names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// horizonEnd returns the exclusive end of the horizon starting at asOf.
func horizonEnd(asOf time.Time, horizonDays int) time.Time {
	return changes.Day(asOf).AddDate(0, 0, horizonDays)
}

// groupByKey splits events into per-key series, preserving input order.
func groupByKey(events []changes.ChangeEvent, keyColumns []string) map[changes.GroupKey][]changes.ChangeEvent {
	out := make(map[changes.GroupKey][]changes.ChangeEvent)
	for _, e := range events {
		k := changes.KeyOf(e, keyColumns)
		out[k] = append(out[k], e)
	}
	return out
}
