package predictor

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/changecast/internal/changes"
)

// CoChange predicts a change of a key when a correlated key of the same
// infobox changes inside the horizon. Two keys are correlated when at least
// minOverlap of the key's training change days are change days of the other.
type CoChange struct {
	minHistory int
	minOverlap float64
	maxRelated int

	// written by Fit only
	related map[changes.GroupKey][]changes.GroupKey
}

// NewCoChange creates the predictor.
func NewCoChange(minHistory int, minOverlap float64, maxRelated int) *CoChange {
	return &CoChange{minHistory: minHistory, minOverlap: minOverlap, maxRelated: maxRelated}
}

func (c *CoChange) Name() string { return "co-change" }

func (c *CoChange) RelevantAttributes() []string {
	return []string{changes.ColInfoboxKey, changes.ColValueValidFrom}
}

type dayProfile struct {
	key  changes.GroupKey
	days map[time.Time]struct{}
}

func (c *CoChange) Fit(ctx context.Context, train []changes.ChangeEvent, _ time.Time, keyColumns []string) error {
	byInfobox := make(map[string]map[changes.GroupKey]*dayProfile)
	for _, e := range train {
		k := changes.KeyOf(e, keyColumns)
		profiles, ok := byInfobox[e.InfoboxKey]
		if !ok {
			profiles = make(map[changes.GroupKey]*dayProfile)
			byInfobox[e.InfoboxKey] = profiles
		}
		p, ok := profiles[k]
		if !ok {
			p = &dayProfile{key: k, days: make(map[time.Time]struct{})}
			profiles[k] = p
		}
		p.days[changes.Day(e.ValueValidFrom)] = struct{}{}
	}

	related := make(map[changes.GroupKey][]changes.GroupKey)
	for _, profiles := range byInfobox {
		if err := ctx.Err(); err != nil {
			return err
		}
		for k, p := range profiles {
			if len(p.days) < c.minHistory {
				continue
			}
			if rel := c.correlated(p, profiles); len(rel) > 0 {
				related[k] = append(related[k], rel...)
			}
		}
	}
	c.related = related

	log.Info().
		Int("keys_with_relations", len(related)).
		Int("infoboxes", len(byInfobox)).
		Msg("Fitted co-change relations")
	return nil
}

func (c *CoChange) correlated(p *dayProfile, profiles map[changes.GroupKey]*dayProfile) []changes.GroupKey {
	type candidate struct {
		key     changes.GroupKey
		overlap float64
	}
	var candidates []candidate
	for other, q := range profiles {
		if other == p.key {
			continue
		}
		shared := 0
		for d := range p.days {
			if _, ok := q.days[d]; ok {
				shared++
			}
		}
		overlap := float64(shared) / float64(len(p.days))
		if overlap >= c.minOverlap {
			candidates = append(candidates, candidate{key: other, overlap: overlap})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].overlap != candidates[j].overlap {
			return candidates[i].overlap > candidates[j].overlap
		}
		return candidates[i].key < candidates[j].key
	})
	if len(candidates) > c.maxRelated {
		candidates = candidates[:c.maxRelated]
	}
	out := make([]changes.GroupKey, len(candidates))
	for i, cand := range candidates {
		out[i] = cand.key
	}
	return out
}

// RelevantKeys returns key followed by its correlated keys.
func (c *CoChange) RelevantKeys(key changes.GroupKey) []changes.GroupKey {
	return append([]changes.GroupKey{key}, c.related[key]...)
}

// PredictTimeframe reports a change when any related event starts within
// [asOf, asOf+h). Keys without correlated keys abstain.
func (c *CoChange) PredictTimeframe(_, related []changes.ChangeEvent, asOf time.Time, horizonDays int) bool {
	start := changes.Day(asOf)
	end := horizonEnd(asOf, horizonDays)
	for i := len(related) - 1; i >= 0; i-- {
		from := related[i].ValueValidFrom
		if from.Before(start) {
			break
		}
		if from.Before(end) {
			return true
		}
	}
	return false
}
