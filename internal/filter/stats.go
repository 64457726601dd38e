package filter

import (
	"fmt"
	"strings"
)

// Stats counts how many changes a filter saw and kept during one pass.
// A zero Stats is unset; Record marks it set.
type Stats struct {
	Initial int `json:"initial_num_changes"`
	Input   int `json:"input_num_changes"`
	Output  int `json:"output_num_changes"`

	set bool
}

// IsSet reports whether the stats hold counts from a pass or a merge.
func (s *Stats) IsSet() bool {
	return s.set
}

// Reset returns the stats to the unset state so the filter can be reused.
func (s *Stats) Reset() {
	*s = Stats{}
}

// Record stores the counts of one pass.
func (s *Stats) Record(initial, input, output int) {
	s.Initial = initial
	s.Input = input
	s.Output = output
	s.set = true
}

// Add sums other into s element-wise. Unset stats count as zero.
func (s *Stats) Add(other *Stats) {
	if other == nil || !other.set {
		return
	}
	s.Initial += other.Initial
	s.Input += other.Input
	s.Output += other.Output
	s.set = true
}

// TotalRemoved is the number of changes removed by the chain up to this filter.
func (s *Stats) TotalRemoved() int {
	return s.Initial - s.Output
}

// Removed is the number of changes removed by this filter alone.
func (s *Stats) Removed() int {
	return s.Input - s.Output
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func (s *Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Initial Number of Changes: \t %d\n", s.Initial)
	fmt.Fprintf(&b, "Input Number of Changes: \t %d\n", s.Input)
	fmt.Fprintf(&b, "Output Number of Changes: \t %d\n\n", s.Output)
	fmt.Fprintf(&b, "Filtered Total: \t\t\t %d \t %.2f %%\n",
		s.TotalRemoved(), percent(s.TotalRemoved(), s.Initial))
	fmt.Fprintf(&b, "Filtered By current Filter: \t %d \t current:\t %.2f %%\t total:\t %.2f %%\n",
		s.Removed(), percent(s.Removed(), s.Input), percent(s.Removed(), s.Initial))
	return b.String()
}
