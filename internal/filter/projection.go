package filter

import (
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/changecast/internal/changes"
)

// AttributeProjection reduces every event to the declared attribute set.
// It never removes events, so all its counts equal the initial count.
type AttributeProjection struct {
	attributes changes.AttributeSet
	stats      Stats
}

// NewAttributeProjection creates a projection onto attrs.
func NewAttributeProjection(attrs changes.AttributeSet) *AttributeProjection {
	return &AttributeProjection{attributes: attrs}
}

func (p *AttributeProjection) Name() string  { return "AttributeProjectionFilter" }
func (p *AttributeProjection) Stats() *Stats { return &p.stats }

// Attributes returns the projected column set.
func (p *AttributeProjection) Attributes() changes.AttributeSet {
	return p.attributes
}

func (p *AttributeProjection) Filter(events []changes.ChangeEvent, initial int) []changes.ChangeEvent {
	beginPass(p.Name(), &p.stats)
	out := make([]changes.ChangeEvent, len(events))
	for i := range events {
		out[i] = changes.Project(events[i], p.attributes)
	}
	p.stats.Record(initial, initial, initial)
	log.Debug().
		Int("events", len(out)).
		Int("columns", len(p.attributes)).
		Msg("Projected change events")
	return out
}

// OnlyUpdates keeps events whose edit type is UPDATE. Creations and deletions
// of an attribute are not value changes of an existing property.
type OnlyUpdates struct {
	stats Stats
}

// NewOnlyUpdates creates the edit type filter.
func NewOnlyUpdates() *OnlyUpdates {
	return &OnlyUpdates{}
}

func (u *OnlyUpdates) Name() string  { return "OnlyUpdatesFilter" }
func (u *OnlyUpdates) Stats() *Stats { return &u.stats }

func (u *OnlyUpdates) Filter(events []changes.ChangeEvent, initial int) []changes.ChangeEvent {
	beginPass(u.Name(), &u.stats)
	out := make([]changes.ChangeEvent, 0, len(events))
	for _, e := range events {
		if e.EditType == changes.EditUpdate {
			out = append(out, e)
		}
	}
	u.stats.Record(initial, len(events), len(out))
	return out
}
