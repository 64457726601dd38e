package backtest

import (
	"sort"
	"time"

	"github.com/sawpanic/changecast/internal/changes"
)

// Call is one scheduled prediction on a test day.
type Call struct {
	HorizonIndex int
	Days         int
	Bucket       int
	End          time.Time
}

// TestDates returns the calendar days of the test window.
func TestDates(cfg *Config) []time.Time {
	start := cfg.TestStartDay()
	dates := make([]time.Time, cfg.TestDuration)
	for t := range dates {
		dates[t] = start.AddDate(0, 0, t)
	}
	return dates
}

// Schedule lists, per test day offset t, the horizons evaluated on that day:
// horizon h fires iff t mod h == 0, giving ceil(L/h) calls per key.
func Schedule(cfg *Config) [][]Call {
	dates := TestDates(cfg)
	out := make([][]Call, len(dates))
	for t, d := range dates {
		for i, h := range cfg.Horizons {
			if t%h.Days != 0 {
				continue
			}
			out[t] = append(out[t], Call{
				HorizonIndex: i,
				Days:         h.Days,
				Bucket:       t / h.Days,
				End:          d.AddDate(0, 0, h.Days),
			})
		}
	}
	return out
}

// History is the time-ordered event series of one or more keys.
type History struct {
	events     []changes.ChangeEvent
	timestamps []time.Time
}

// NewHistory sorts a copy of events by ValueValidFrom.
func NewHistory(events []changes.ChangeEvent) *History {
	sorted := make([]changes.ChangeEvent, len(events))
	copy(sorted, events)
	changes.SortByTime(sorted)

	ts := make([]time.Time, len(sorted))
	for i, e := range sorted {
		ts[i] = e.ValueValidFrom
	}
	return &History{events: sorted, timestamps: ts}
}

// Len returns the number of events.
func (h *History) Len() int {
	return len(h.events)
}

// Events returns all events in time order.
func (h *History) Events() []changes.ChangeEvent {
	return h.events
}

// Until returns the events with ValueValidFrom strictly before d. The result
// shares storage with the history and must not be modified.
func (h *History) Until(d time.Time) []changes.ChangeEvent {
	n := sort.Search(len(h.timestamps), func(i int) bool {
		return !h.timestamps[i].Before(d)
	})
	return h.events[:n:n]
}

// ChangeDays returns the set of UTC days with at least one event.
func (h *History) ChangeDays() map[time.Time]struct{} {
	days := make(map[time.Time]struct{}, len(h.events))
	for _, t := range h.timestamps {
		days[changes.Day(t)] = struct{}{}
	}
	return days
}
