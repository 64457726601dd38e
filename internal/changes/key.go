package changes

import (
	"fmt"
	"sort"
	"strings"
)

// keySeparator never appears in infobox keys or property names.
const keySeparator = "\x1f"

// DefaultKeyColumns tracks one series per (infobox, property) pair.
var DefaultKeyColumns = []string{ColInfoboxKey, ColPropertyName}

// GroupKey identifies the series an event belongs to. It is built from the
// values of a configurable list of key columns.
type GroupKey string

// KeyOf builds the group key of e for the given columns.
func KeyOf(e ChangeEvent, columns []string) GroupKey {
	parts := make([]string, len(columns))
	for i, col := range columns {
		v, _ := e.Attribute(col)
		parts[i] = v
	}
	return GroupKey(strings.Join(parts, keySeparator))
}

// NewGroupKey builds a key directly from column values.
func NewGroupKey(parts ...string) GroupKey {
	return GroupKey(strings.Join(parts, keySeparator))
}

// Parts splits the key back into its column values.
func (k GroupKey) Parts() []string {
	return strings.Split(string(k), keySeparator)
}

// String renders the key with a readable separator.
func (k GroupKey) String() string {
	return strings.Join(k.Parts(), "|")
}

// ValidateKeyColumns rejects empty or unknown key columns.
func ValidateKeyColumns(columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("at least one group key column is required")
	}
	probe := ChangeEvent{}
	for _, col := range columns {
		if _, ok := probe.Attribute(col); !ok {
			return fmt.Errorf("unknown group key column %q", col)
		}
	}
	return nil
}

// SortForFiltering orders events by (infobox_key, property_name, value_valid_from).
// The filter pipeline relies on this order and never re-sorts.
func SortForFiltering(events []ChangeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return lessForFiltering(events[i], events[j])
	})
}

// IsSorted reports whether events already satisfy the filtering order.
func IsSorted(events []ChangeEvent) bool {
	for i := 1; i < len(events); i++ {
		if lessForFiltering(events[i], events[i-1]) {
			return false
		}
	}
	return true
}

func lessForFiltering(a, b ChangeEvent) bool {
	if a.InfoboxKey != b.InfoboxKey {
		return a.InfoboxKey < b.InfoboxKey
	}
	if a.PropertyName != b.PropertyName {
		return a.PropertyName < b.PropertyName
	}
	return a.ValueValidFrom.Before(b.ValueValidFrom)
}

// SortByTime orders events by value_valid_from only.
func SortByTime(events []ChangeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ValueValidFrom.Before(events[j].ValueValidFrom)
	})
}
