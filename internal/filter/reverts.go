package filter

import (
	"time"

	"github.com/sawpanic/changecast/internal/changes"
)

// DefaultMaxRevertAge bounds how long a reverted state may have lived for an edit war.
const DefaultMaxRevertAge = 7 * 24 * time.Hour

// RevertPolicy adds the policy specific temporal condition to a revert pair.
// reverted is the event whose state gets undone by the other one.
type RevertPolicy interface {
	Name() string
	Allows(reverted changes.ChangeEvent) bool
}

// BotRevertPolicy matches instantaneous corrections: the reverted state never lasted.
type BotRevertPolicy struct{}

func (BotRevertPolicy) Name() string { return "BotRevertFilter" }

func (BotRevertPolicy) Allows(reverted changes.ChangeEvent) bool {
	return reverted.ValueValidTo != nil && reverted.ValueValidFrom.Equal(*reverted.ValueValidTo)
}

// EditWarPolicy matches back-and-forth edits where the reverted state lived at
// most MaxRevertAge.
type EditWarPolicy struct {
	MaxRevertAge time.Duration
}

func (EditWarPolicy) Name() string { return "EditWarRevertFilter" }

func (p EditWarPolicy) Allows(reverted changes.ChangeEvent) bool {
	if reverted.ValueValidTo == nil {
		return false
	}
	return reverted.ValueValidTo.Sub(reverted.ValueValidFrom) <= p.MaxRevertAge
}

// RevertPair removes pairs of neighbouring changes that undo each other and
// lets the surviving state absorb their validity interval.
type RevertPair struct {
	runFilter
	policy RevertPolicy
}

// NewRevertPair creates a revert filter for the given policy.
func NewRevertPair(policy RevertPolicy) *RevertPair {
	f := &RevertPair{policy: policy}
	f.runFilter = runFilter{
		name:    policy.Name(),
		sameRun: changes.SameProperty,
		reduce:  f.reduceRun,
	}
	return f
}

// NewBotReverts removes zero-duration bot corrections.
func NewBotReverts() *RevertPair {
	return NewRevertPair(BotRevertPolicy{})
}

// NewEditWarReverts removes reverts of states younger than maxAge (default 7 days).
func NewEditWarReverts(maxAge time.Duration) *RevertPair {
	if maxAge <= 0 {
		maxAge = DefaultMaxRevertAge
	}
	return NewRevertPair(EditWarPolicy{MaxRevertAge: maxAge})
}

// Policy returns the configured revert policy.
func (f *RevertPair) Policy() RevertPolicy {
	return f.policy
}

func (f *RevertPair) isRevert(a, b changes.ChangeEvent) bool {
	return a.CurrentValue == b.PreviousValue &&
		a.PreviousValue == b.CurrentValue &&
		a.ValueValidTo != nil && a.ValueValidTo.Equal(b.ValueValidFrom) &&
		f.policy.Allows(a)
}

func (f *RevertPair) reduceRun(run []changes.ChangeEvent) []changes.ChangeEvent {
	kept := make([]changes.ChangeEvent, 0, len(run))
	i := 0
	for i < len(run)-1 {
		a, b := run[i], run[i+1]
		if !f.isRevert(a, b) && !f.isRevert(b, a) {
			kept = append(kept, a)
			i++
			continue
		}
		if len(kept) > 0 {
			last := kept[len(kept)-1].Clone()
			last.ValueValidTo = latestEnd(a.ValueValidTo, b.ValueValidTo)
			kept[len(kept)-1] = last
		}
		i += 2
	}
	if i < len(run) {
		kept = append(kept, run[len(run)-1])
	}
	return kept
}

// latestEnd returns the later of two validity ends. A nil end means the state
// is still current, so it wins.
func latestEnd(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if b.After(*a) {
		return changes.CloneTime(b)
	}
	return changes.CloneTime(a)
}
