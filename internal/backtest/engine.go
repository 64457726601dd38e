// Package backtest replays a test window per group key, asks a predictor about
// every scheduled horizon with a strict as-of cutoff and scores the answers.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/changecast/internal/changes"
	"github.com/sawpanic/changecast/internal/evaluation"
	plog "github.com/sawpanic/changecast/internal/log"
	"github.com/sawpanic/changecast/internal/predictor"
)

var (
	// ErrAlreadyFitted is returned when Fit is called twice on one engine.
	ErrAlreadyFitted = errors.New("predictor already fitted for this run")
	// ErrNoEvents is returned when there is nothing to replay.
	ErrNoEvents = errors.New("no change events")
)

// Clock interface for time operations (injectable for testing)
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using real time
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// Engine drives one predictor through one backtest run.
type Engine struct {
	config    *Config
	predictor predictor.Predictor
	clock     Clock
	sink      ProgressSink
	onStep    plog.StepObserver

	mu        sync.Mutex
	fitted    bool
	totalKeys int
	acc       *Accumulator
}

// NewEngine creates an engine; a nil config uses DefaultConfig.
func NewEngine(config *Config, p predictor.Predictor) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config:    config,
		predictor: p,
		clock:     RealClock{},
	}
}

// SetClock sets the clock implementation (for testing)
func (e *Engine) SetClock(clock Clock) {
	e.clock = clock
}

// SetProgressSink registers a receiver for running estimates.
func (e *Engine) SetProgressSink(sink ProgressSink) {
	e.sink = sink
}

// SetStepObserver registers a callback for the end of each run step.
func (e *Engine) SetStepObserver(fn plog.StepObserver) {
	e.onStep = fn
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// Attributes returns the columns the run needs: the engine's own plus the
// predictor's.
func (e *Engine) Attributes() changes.AttributeSet {
	own := append([]string{changes.ColValueValidFrom, changes.ColValueValidTo}, e.config.KeyColumns...)
	return changes.NewAttributeSet(own...).Union(e.predictor.RelevantAttributes()...)
}

// Project reduces events to the attributes of the run.
func (e *Engine) Project(events []changes.ChangeEvent) []changes.ChangeEvent {
	attrs := e.Attributes()
	out := make([]changes.ChangeEvent, len(events))
	for i := range events {
		out[i] = changes.Project(events[i], attrs)
	}
	return out
}

// Fit hands every event before the test window to the predictor. It may be
// called once per engine.
func (e *Engine) Fit(ctx context.Context, events []changes.ChangeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fitted {
		return ErrAlreadyFitted
	}

	cutoff := e.config.TestStartDay()
	train := e.trainEvents(events)

	log.Info().
		Str("predictor", e.predictor.Name()).
		Int("train_events", len(train)).
		Time("cutoff", cutoff).
		Msg("Fitting predictor")

	if err := e.predictor.Fit(ctx, train, cutoff, e.config.KeyColumns); err != nil {
		return fmt.Errorf("failed to fit %s: %w", e.predictor.Name(), err)
	}
	e.fitted = true
	return nil
}

// keyIndex groups events by key in order of first appearance.
type keyIndex struct {
	keys      []changes.GroupKey
	histories map[changes.GroupKey]*History
}

func buildIndex(events []changes.ChangeEvent, keyColumns []string) *keyIndex {
	grouped := make(map[changes.GroupKey][]changes.ChangeEvent)
	var keys []changes.GroupKey
	for _, ev := range events {
		k := changes.KeyOf(ev, keyColumns)
		if _, ok := grouped[k]; !ok {
			keys = append(keys, k)
		}
		grouped[k] = append(grouped[k], ev)
	}
	idx := &keyIndex{keys: keys, histories: make(map[changes.GroupKey]*History, len(grouped))}
	for k, evs := range grouped {
		idx.histories[k] = NewHistory(evs)
	}
	return idx
}

// selectKeys applies the randomize and subset options.
func (e *Engine) selectKeys(keys []changes.GroupKey) []changes.GroupKey {
	selected := append([]changes.GroupKey(nil), keys...)
	if e.config.Randomize {
		rng := rand.New(rand.NewSource(e.config.Seed))
		rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	}
	if e.config.PredictSubset > 0 && e.config.PredictSubset < 1 {
		n := int(math.Ceil(float64(len(selected)) * e.config.PredictSubset))
		log.Info().
			Float64("subset", e.config.PredictSubset).
			Int("keys", n).
			Msg("Predicting only a subset of keys")
		selected = selected[:n]
	}
	return selected
}

// Replay runs the test window for every selected key and returns the
// per-key labels and predictions in key order.
func (e *Engine) Replay(ctx context.Context, events []changes.ChangeEvent) (evaluation.Input, error) {
	idx := buildIndex(events, e.config.KeyColumns)
	if len(idx.keys) == 0 {
		return evaluation.Input{}, ErrNoEvents
	}
	keys := e.selectKeys(idx.keys)
	dates := TestDates(e.config)
	schedule := Schedule(e.config)

	acc := NewAccumulator(e.config.Horizons, len(keys))
	e.mu.Lock()
	e.acc = acc
	e.totalKeys = len(idx.keys)
	e.mu.Unlock()

	progress := plog.NewProgressIndicator("replay", len(keys), e.config.Progress, nil)
	every := len(keys) / 10
	if every < 1 {
		every = 1
	}

	log.Info().
		Int("keys", len(keys)).
		Int("days", len(dates)).
		Int("workers", e.config.Workers).
		Msg("Replaying test window")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)
	for i, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := e.replayKey(key, idx, dates, schedule)
			completed := acc.Record(i, res)
			progress.Increment()
			if e.config.EstimateStats && completed%every == 0 && completed < len(keys) {
				e.estimate(acc, completed, len(keys))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		progress.Fail(err.Error())
		return evaluation.Input{}, err
	}
	if err := ctx.Err(); err != nil {
		progress.Fail(err.Error())
		return evaluation.Input{}, err
	}
	progress.Finish()
	return acc.Snapshot(), nil
}

// estimate evaluates a snapshot of the completed keys.
func (e *Engine) estimate(acc *Accumulator, completed, total int) {
	est := Estimate{
		Completed: completed,
		Total:     total,
		Timestamp: e.clock.Now(),
		Horizons:  evaluation.Evaluate(acc.Snapshot()),
	}
	acc.AddEstimate(est)

	ev := log.Info().Int("completed", completed).Int("total", total)
	for _, h := range est.Horizons {
		ev = ev.Float64(h.Horizon.Label+"_precision", h.Positive.Precision).
			Float64(h.Horizon.Label+"_recall", h.Positive.Recall)
	}
	ev.Msg("Running estimate")

	if e.sink != nil {
		e.sink.Publish(est)
	}
}

// replayKey walks the test window of one key. It only reads shared state.
func (e *Engine) replayKey(key changes.GroupKey, idx *keyIndex, dates []time.Time, schedule [][]Call) evaluation.KeyResult {
	target := idx.histories[key]

	var relatedEvents []changes.ChangeEvent
	for _, rk := range e.predictor.RelevantKeys(key) {
		if rk == key {
			continue
		}
		if h, ok := idx.histories[rk]; ok {
			relatedEvents = append(relatedEvents, h.Events()...)
		}
	}
	related := NewHistory(relatedEvents)

	changeDays := target.ChangeDays()
	res := evaluation.KeyResult{
		Key:         key,
		Labels:      make([]bool, len(dates)),
		Predictions: make([][]bool, len(e.config.Horizons)),
	}
	for i, h := range e.config.Horizons {
		res.Predictions[i] = make([]bool, evaluation.Buckets(len(dates), h.Days))
	}

	for t, d := range dates {
		_, res.Labels[t] = changeDays[d]
		if len(schedule[t]) == 0 {
			continue
		}
		visible := target.Until(d)
		for _, call := range schedule[t] {
			res.Predictions[call.HorizonIndex][call.Bucket] =
				e.predictor.PredictTimeframe(visible, related.Until(call.End), d, call.Days)
		}
	}
	return res
}

// Run fits the predictor, replays the test window and evaluates the result.
func (e *Engine) Run(ctx context.Context, events []changes.ChangeEvent) (*Results, error) {
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	results := &Results{
		RunID:     uuid.New().String(),
		Predictor: e.predictor.Name(),
		Config:    e.config,
		StartTime: e.clock.Now(),
	}

	steps := plog.NewStepLogger([]string{"project", "fit", "replay", "evaluate"}).Observe(e.onStep)
	steps.StartStep("project")
	projected := e.Project(events)

	steps.StartStep("fit")
	if err := e.Fit(ctx, projected); err != nil {
		steps.Fail(err.Error())
		return nil, err
	}

	steps.StartStep("replay")
	input, err := e.Replay(ctx, projected)
	if err != nil {
		steps.Fail(err.Error())
		return nil, fmt.Errorf("replay failed: %w", err)
	}

	steps.StartStep("evaluate")
	train := e.trainEvents(projected)
	activity := evaluation.Activity(train, e.config.KeyColumns)

	results.TotalKeys = e.totalKeys
	results.ReplayedKeys = len(input.Keys)
	results.TrainEvents = len(train)
	results.TestEvents = len(projected) - len(train)
	results.Horizons = evaluation.Evaluate(input)
	results.Buckets = evaluation.Bucketed(input, activity, nil)
	results.OverTime = evaluation.OverTime(input)
	results.Estimates = e.acc.Estimates()
	results.EndTime = e.clock.Now()
	steps.Finish()

	for _, h := range results.Horizons {
		log.Info().
			Str("horizon", h.Horizon.Label).
			Float64("precision", h.Positive.Precision).
			Float64("recall", h.Positive.Recall).
			Float64("f1", h.Positive.F1).
			Int("support", h.Positive.Support).
			Msg("Horizon evaluated")
	}
	return results, nil
}

func (e *Engine) trainEvents(events []changes.ChangeEvent) []changes.ChangeEvent {
	cutoff := e.config.TestStartDay()
	var train []changes.ChangeEvent
	for _, ev := range events {
		if ev.ValueValidFrom.Before(cutoff) {
			train = append(train, ev)
		}
	}
	return train
}
