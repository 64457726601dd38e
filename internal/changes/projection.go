package changes

import "sort"

// AttributeSet is a declared subset of columns to retain.
type AttributeSet map[string]struct{}

// NewAttributeSet builds a set from column names.
func NewAttributeSet(columns ...string) AttributeSet {
	s := make(AttributeSet, len(columns))
	for _, c := range columns {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether column is part of the set.
func (s AttributeSet) Has(column string) bool {
	_, ok := s[column]
	return ok
}

// Union returns a new set containing s and every extra column.
func (s AttributeSet) Union(columns ...string) AttributeSet {
	out := make(AttributeSet, len(s)+len(columns))
	for c := range s {
		out[c] = struct{}{}
	}
	for _, c := range columns {
		out[c] = struct{}{}
	}
	return out
}

// Columns returns the set members in sorted order.
func (s AttributeSet) Columns() []string {
	cols := make([]string, 0, len(s))
	for c := range s {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// FullSparseAttributes keeps every attribute the pipeline, predictors and reports read.
var FullSparseAttributes = NewAttributeSet(
	ColPageID, ColPropertyName, ColValueValidTo, ColValueValidFrom,
	ColCurrentValue, ColPreviousValue, ColNumChanges,
	ColPageTitle, ColRevisionID, ColEditType, ColPropertyType, ColComment,
	ColInfoboxKey, ColUsername, ColUserID, ColPosition, ColTemplate,
	ColRevisionValidTo,
)

// MinimalAttributes is only enough for grouping and aggregation.
var MinimalAttributes = NewAttributeSet(
	ColPageID, ColPropertyName, ColValueValidTo, ColValueValidFrom,
	ColCurrentValue, ColPreviousValue, ColNumChanges,
	ColInfoboxKey, ColRevisionValidTo,
)

// Project returns a new event carrying only the attributes in set.
func Project(e ChangeEvent, set AttributeSet) ChangeEvent {
	var p ChangeEvent
	if set.Has(ColPageID) {
		p.PageID = e.PageID
	}
	if set.Has(ColPageTitle) {
		p.PageTitle = e.PageTitle
	}
	if set.Has(ColInfoboxKey) {
		p.InfoboxKey = e.InfoboxKey
	}
	if set.Has(ColTemplate) {
		p.Template = e.Template
	}
	if set.Has(ColPropertyName) {
		p.PropertyName = e.PropertyName
	}
	if set.Has(ColPropertyType) {
		p.PropertyType = e.PropertyType
	}
	if set.Has(ColPreviousValue) {
		p.PreviousValue = e.PreviousValue
	}
	if set.Has(ColCurrentValue) {
		p.CurrentValue = e.CurrentValue
	}
	if set.Has(ColValueValidFrom) {
		p.ValueValidFrom = e.ValueValidFrom
	}
	if set.Has(ColValueValidTo) {
		p.ValueValidTo = CloneTime(e.ValueValidTo)
	}
	if set.Has(ColRevisionID) {
		p.RevisionID = e.RevisionID
	}
	if set.Has(ColRevisionValidTo) {
		p.RevisionValidTo = CloneTime(e.RevisionValidTo)
	}
	if set.Has(ColEditType) {
		p.EditType = e.EditType
	}
	if set.Has(ColComment) {
		p.Comment = e.Comment
	}
	if set.Has(ColUsername) {
		p.Username = e.Username
	}
	if set.Has(ColUserID) {
		p.UserID = e.UserID
	}
	if set.Has(ColPosition) {
		p.Position = e.Position
	}
	if set.Has(ColNumChanges) {
		p.NumChanges = e.NumChanges
	}
	return p
}
