package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/changecast/internal/changes"
)

const modelTTL = 7 * 24 * time.Hour

// PeriodicModel is the fitted state of one key.
type PeriodicModel struct {
	// Interval is the median gap between training changes.
	Interval time.Duration `json:"interval"`
	Samples  int           `json:"samples"`
}

// Periodic assumes every key changes with a fixed period, estimated as the
// median interval of its training changes. Keys with fewer than MinHistory
// training changes have no model and never predict a change.
type Periodic struct {
	minHistory int
	cache      ModelCache

	// written by Fit only
	keyColumns []string
	models     map[changes.GroupKey]PeriodicModel
}

// NewPeriodic creates the predictor; cache may be nil.
func NewPeriodic(minHistory int, cache ModelCache) *Periodic {
	if minHistory < 2 {
		minHistory = 2
	}
	return &Periodic{minHistory: minHistory, cache: cache}
}

func (p *Periodic) Name() string { return "periodic" }

func (p *Periodic) RelevantAttributes() []string {
	return []string{changes.ColValueValidFrom}
}

func (p *Periodic) RelevantKeys(key changes.GroupKey) []changes.GroupKey {
	return []changes.GroupKey{key}
}

// Model returns the fitted model of key.
func (p *Periodic) Model(key changes.GroupKey) (PeriodicModel, bool) {
	m, ok := p.models[key]
	return m, ok
}

// Models returns the number of fitted models.
func (p *Periodic) Models() int {
	return len(p.models)
}

func (p *Periodic) cacheKey(cutoff time.Time, keyColumns []string, n int) string {
	return fmt.Sprintf("periodic:%s:%d:%s:%d",
		changes.Day(cutoff).Format("2006-01-02"), p.minHistory, strings.Join(keyColumns, ","), n)
}

// Fit replaces all models. Cached models are reused when the cache holds a
// fit of the same cutoff, key columns and training size.
func (p *Periodic) Fit(ctx context.Context, train []changes.ChangeEvent, cutoff time.Time, keyColumns []string) error {
	p.keyColumns = keyColumns
	cacheKey := p.cacheKey(cutoff, keyColumns, len(train))
	if p.cache != nil {
		if models, ok := p.loadCached(ctx, cacheKey); ok {
			p.models = models
			log.Info().Int("models", len(models)).Str("cache_key", cacheKey).Msg("Loaded periodic models from cache")
			return nil
		}
	}

	models := make(map[changes.GroupKey]PeriodicModel)
	for key, series := range groupByKey(train, keyColumns) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(series) < p.minHistory {
			continue
		}
		changes.SortByTime(series)
		models[key] = PeriodicModel{Interval: medianInterval(series), Samples: len(series)}
	}
	p.models = models

	log.Info().
		Int("models", len(models)).
		Int("train_events", len(train)).
		Msg("Fitted periodic models")

	if p.cache != nil {
		p.storeCached(ctx, cacheKey, models)
	}
	return nil
}

func (p *Periodic) loadCached(ctx context.Context, key string) (map[changes.GroupKey]PeriodicModel, bool) {
	b, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read model cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var models map[changes.GroupKey]PeriodicModel
	if err := json.Unmarshal(b, &models); err != nil {
		log.Warn().Err(err).Msg("Discarding unreadable cached models")
		return nil, false
	}
	return models, true
}

func (p *Periodic) storeCached(ctx context.Context, key string, models map[changes.GroupKey]PeriodicModel) {
	b, err := json.Marshal(models)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode models")
		return
	}
	if err := p.cache.Set(ctx, key, b, modelTTL); err != nil {
		log.Warn().Err(err).Msg("Failed to write model cache")
	}
}

// PredictTimeframe projects the period forward from the last visible change
// and reports whether a projected change lands in [asOf, asOf+h).
func (p *Periodic) PredictTimeframe(target, _ []changes.ChangeEvent, asOf time.Time, horizonDays int) bool {
	if len(target) == 0 {
		return false
	}
	model, ok := p.models[changes.KeyOf(target[0], p.keyColumns)]
	if !ok {
		return false
	}
	return projectedInWindow(target[len(target)-1].ValueValidFrom, model.Interval, asOf, horizonDays)
}

func projectedInWindow(last time.Time, interval time.Duration, asOf time.Time, horizonDays int) bool {
	if interval <= 0 {
		return false
	}
	start := changes.Day(asOf)
	end := horizonEnd(asOf, horizonDays)
	next := last.Add(interval)
	if next.Before(start) {
		steps := start.Sub(next) / interval
		next = next.Add(steps * interval)
		for next.Before(start) {
			next = next.Add(interval)
		}
	}
	return next.Before(end)
}

func medianInterval(series []changes.ChangeEvent) time.Duration {
	gaps := make([]time.Duration, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		gaps = append(gaps, series[i].ValueValidFrom.Sub(series[i-1].ValueValidFrom))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return gaps[mid]
	}
	return (gaps[mid-1] + gaps[mid]) / 2
}
