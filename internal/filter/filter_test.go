package filter

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/changecast/internal/changes"
)

func ts(day, hour, minute int) time.Time {
	return time.Date(2020, 1, day, hour, minute, 0, 0, time.UTC)
}

func change(ibx, prop, prev, cur string, from time.Time, to *time.Time) changes.ChangeEvent {
	return changes.ChangeEvent{
		InfoboxKey:     ibx,
		PropertyName:   prop,
		PreviousValue:  prev,
		CurrentValue:   cur,
		ValueValidFrom: from,
		ValueValidTo:   to,
		EditType:       changes.EditUpdate,
		NumChanges:     1,
	}
}

func series(ibx, prop string, n int) []changes.ChangeEvent {
	out := make([]changes.ChangeEvent, n)
	for i := 0; i < n; i++ {
		from := ts(1+i, 12, 0)
		out[i] = change(ibx, prop, "v", "w", from, changes.TimePtr(from.Add(24*time.Hour)))
	}
	return out
}

func TestScanRuns_ContiguousPartition(t *testing.T) {
	var events []changes.ChangeEvent
	events = append(events, series("a", "p", 3)...)
	events = append(events, series("a", "q", 2)...)
	events = append(events, series("b", "p", 4)...)

	var runs [][]changes.ChangeEvent
	out := scanRuns(events, changes.SameProperty, func(run []changes.ChangeEvent) []changes.ChangeEvent {
		runs = append(runs, run)
		return run
	})
	require.Len(t, runs, 3)
	assert.Equal(t, events, out)

	total := 0
	for _, run := range runs {
		for i := 1; i < len(run); i++ {
			assert.True(t, changes.SameProperty(run[0], run[i]))
		}
		total += len(run)
	}
	assert.Equal(t, len(events), total)
	// the last run is flushed as well
	assert.Len(t, runs[2], 4)
}

func TestMinimumActivity(t *testing.T) {
	var events []changes.ChangeEvent
	events = append(events, series("a", "busy", 6)...)
	events = append(events, series("a", "quiet", 4)...)
	events = append(events, series("b", "edge", 5)...)

	f := NewMinimumActivity(5)
	out := f.Filter(events, len(events))

	assert.Len(t, out, 11)
	for _, e := range out {
		assert.NotEqual(t, "quiet", e.PropertyName)
	}
	assert.Equal(t, Stats{Initial: 15, Input: 15, Output: 11, set: true}, *f.Stats())
	assert.Equal(t, DefaultMinChanges, NewMinimumActivity(0).Threshold())
}

func TestMajorityValuePerDay_CollapsesDay(t *testing.T) {
	events := []changes.ChangeEvent{
		change("a", "p", "0", "1", ts(1, 9, 0), changes.TimePtr(ts(1, 10, 0))),
		change("a", "p", "1", "2", ts(1, 10, 0), changes.TimePtr(ts(1, 11, 0))),
		change("a", "p", "2", "2", ts(1, 11, 0), changes.TimePtr(ts(1, 12, 0))),
	}
	events[2].Comment = "last"

	f := NewMajorityValuePerDay()
	out := f.Filter(events, 3)

	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].CurrentValue)
	assert.Equal(t, "last", out[0].Comment)
	assert.Equal(t, 3, out[0].NumChanges)
	assert.Equal(t, ts(1, 9, 0), out[0].ValueValidFrom)
	require.NotNil(t, out[0].ValueValidTo)
	assert.Equal(t, ts(1, 12, 0), *out[0].ValueValidTo)

	// input untouched
	assert.Equal(t, 1, events[2].NumChanges)
	assert.Equal(t, ts(1, 11, 0), events[2].ValueValidFrom)
}

func TestMajorityValuePerDay_TieTakesLatest(t *testing.T) {
	events := []changes.ChangeEvent{
		change("a", "p", "0", "x", ts(1, 9, 0), changes.TimePtr(ts(1, 10, 0))),
		change("a", "p", "x", "y", ts(1, 10, 0), nil),
	}

	out := NewMajorityValuePerDay().Filter(events, 2)
	require.Len(t, out, 1)
	assert.Equal(t, "y", out[0].CurrentValue)
	assert.Nil(t, out[0].ValueValidTo)
}

func TestMajorityValuePerDay_DistinctDaysPass(t *testing.T) {
	events := series("a", "p", 3)
	out := NewMajorityValuePerDay().Filter(events, 3)
	assert.Equal(t, events, out)
}

func TestBotReverts_ExtendsPreviousState(t *testing.T) {
	prior := change("a", "p", "", "1", ts(1, 8, 0), changes.TimePtr(ts(1, 9, 0)))
	revA := change("a", "p", "1", "2", ts(1, 9, 0), changes.TimePtr(ts(1, 9, 0)))
	revB := change("a", "p", "2", "1", ts(1, 9, 0), changes.TimePtr(ts(1, 9, 5)))

	f := NewBotReverts()
	out := f.Filter([]changes.ChangeEvent{prior, revA, revB}, 3)

	require.Len(t, out, 1)
	require.NotNil(t, out[0].ValueValidTo)
	assert.Equal(t, ts(1, 9, 5), *out[0].ValueValidTo)
	assert.Equal(t, ts(1, 9, 0), *prior.ValueValidTo, "input event must not change")
	assert.Equal(t, 2, f.Stats().Removed())
}

func TestBotReverts_NoPriorEvent(t *testing.T) {
	revA := change("a", "p", "1", "2", ts(1, 9, 0), changes.TimePtr(ts(1, 9, 0)))
	revB := change("a", "p", "2", "1", ts(1, 9, 0), changes.TimePtr(ts(1, 9, 5)))

	out := NewBotReverts().Filter([]changes.ChangeEvent{revA, revB}, 2)
	assert.Empty(t, out)
}

func TestBotReverts_OpenEndedRevertKeepsStateCurrent(t *testing.T) {
	prior := change("a", "p", "", "1", ts(1, 8, 0), changes.TimePtr(ts(1, 9, 0)))
	revA := change("a", "p", "1", "2", ts(1, 9, 0), changes.TimePtr(ts(1, 9, 0)))
	revB := change("a", "p", "2", "1", ts(1, 9, 0), nil)

	out := NewBotReverts().Filter([]changes.ChangeEvent{prior, revA, revB}, 3)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].ValueValidTo)
}

func TestBotReverts_IgnoresLastingState(t *testing.T) {
	events := []changes.ChangeEvent{
		change("a", "p", "1", "2", ts(1, 9, 0), changes.TimePtr(ts(2, 9, 0))),
		change("a", "p", "2", "1", ts(2, 9, 0), nil),
	}
	out := NewBotReverts().Filter(events, 2)
	assert.Len(t, out, 2)
}

func TestEditWarReverts(t *testing.T) {
	prior := change("a", "p", "", "1", ts(1, 8, 0), changes.TimePtr(ts(1, 9, 0)))
	revA := change("a", "p", "1", "2", ts(1, 9, 0), changes.TimePtr(ts(4, 9, 0)))
	revB := change("a", "p", "2", "1", ts(4, 9, 0), changes.TimePtr(ts(20, 0, 0)))
	tail := change("a", "p", "1", "3", ts(20, 0, 0), nil)

	out := NewEditWarReverts(0).Filter([]changes.ChangeEvent{prior, revA, revB, tail}, 4)
	require.Len(t, out, 2)
	assert.Equal(t, ts(20, 0, 0), *out[0].ValueValidTo)
	assert.Equal(t, "3", out[1].CurrentValue)

	tooOld := NewEditWarReverts(48 * time.Hour).Filter([]changes.ChangeEvent{prior, revA, revB, tail}, 4)
	assert.Len(t, tooOld, 4)
}

func TestReverts_DoNotCrossProperties(t *testing.T) {
	revA := change("a", "p", "1", "2", ts(1, 9, 0), changes.TimePtr(ts(1, 9, 0)))
	revB := change("a", "q", "2", "1", ts(1, 9, 0), changes.TimePtr(ts(1, 9, 5)))

	out := NewBotReverts().Filter([]changes.ChangeEvent{revA, revB}, 2)
	assert.Len(t, out, 2)
}

func TestAttributeProjection(t *testing.T) {
	events := series("a", "p", 2)
	events[0].Comment = "hello"

	p := NewAttributeProjection(changes.MinimalAttributes)
	out := p.Filter(events, 10)

	require.Len(t, out, 2)
	assert.Empty(t, out[0].Comment)
	assert.Equal(t, "hello", events[0].Comment)
	assert.Equal(t, Stats{Initial: 10, Input: 10, Output: 10, set: true}, *p.Stats())
}

func TestOnlyUpdates(t *testing.T) {
	events := series("a", "p", 3)
	events[1].EditType = changes.EditCreate

	u := NewOnlyUpdates()
	out := u.Filter(events, 3)
	assert.Len(t, out, 2)
	assert.Equal(t, 1, u.Stats().Removed())
}

func TestFilterReuseLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	f := NewMinimumActivity(1)
	f.Filter(series("a", "p", 2), 2)
	assert.NotContains(t, buf.String(), "not reset")

	f.Filter(series("a", "p", 3), 3)
	assert.Contains(t, buf.String(), "stats are not reset")
	assert.Equal(t, 3, f.Stats().Input)

	f.Stats().Reset()
	assert.False(t, f.Stats().IsSet())
}

func TestApply_LogsUnsortedInputAtDebug(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	sorted := series("a", "p", 3)
	Apply(sorted, Chain{NewMinimumActivity(1)})
	assert.NotContains(t, buf.String(), "not sorted")

	unsorted := append(series("b", "p", 2), series("a", "p", 2)...)
	Apply(unsorted, Chain{NewMinimumActivity(1)})
	assert.Contains(t, buf.String(), "Filter input is not sorted")

	buf.Reset()
	log.Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)
	Apply(unsorted, Chain{NewMinimumActivity(1)})
	assert.NotContains(t, buf.String(), "not sorted")
}

func TestApply_DefaultChain(t *testing.T) {
	var events []changes.ChangeEvent
	events = append(events, series("a", "p", 6)...)
	events = append(events, series("b", "p", 2)...)

	chain := DefaultChain()
	out := Apply(events, chain)

	assert.Len(t, out, 6)
	assert.Equal(t, []string{"BotRevertFilter", "MajorityValuePerDayFilter", "MinimumActivityFilter"}, chain.Names())
	for _, f := range chain {
		assert.Equal(t, 8, f.Stats().Initial)
	}
	assert.Equal(t, 2, chain[2].Stats().TotalRemoved())
}

func TestMergeStats(t *testing.T) {
	target := DefaultChain()
	shardA := DefaultChain()
	shardB := DefaultChain()
	Apply(series("a", "p", 6), shardA)
	Apply(series("b", "p", 3), shardB)

	require.NoError(t, MergeStats(target, shardA, shardB))
	assert.Equal(t, 9, target[0].Stats().Initial)
	assert.Equal(t, 6, target[2].Stats().Output)

	err := MergeStats(target, Chain{NewOnlyUpdates()})
	assert.ErrorIs(t, err, ErrChainMismatch)

	reordered := Chain{NewMajorityValuePerDay(), NewBotReverts(), NewMinimumActivity(5)}
	assert.ErrorIs(t, MergeStats(DefaultChain(), reordered), ErrChainMismatch)
}

func TestReport(t *testing.T) {
	chain := DefaultChain()
	Apply(series("a", "p", 6), chain)

	report := Report(chain)
	assert.NotContains(t, report, "WARNING")
	assert.Equal(t, 3, strings.Count(report, "Initial Number of Changes"))
	assert.Less(t, strings.Index(report, "BotRevertFilter"), strings.Index(report, "MinimumActivityFilter"))

	chain[1].Stats().Record(99, 6, 6)
	assert.True(t, strings.HasPrefix(Report(chain), "WARNING"))
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	chain := DefaultChain()
	Apply(series("a", "p", 5), chain)

	path, err := WriteReport(chain, filepath.Join(dir, "out"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "MajorityValuePerDayFilter")
}

func TestStatsString_ZeroDenominators(t *testing.T) {
	var s Stats
	out := s.String()
	assert.Contains(t, out, "0.00 %")
	assert.NotContains(t, out, "NaN")
}
