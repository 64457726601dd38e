package changes

import (
	"strconv"
	"strings"
	"time"
)

// Edit types recorded for infobox changes
const (
	EditCreate = "CREATE"
	EditUpdate = "UPDATE"
	EditDelete = "DELETE"
)

// Column names used by group keys, projections and predictor attribute requests
const (
	ColPageID          = "page_id"
	ColPageTitle       = "page_title"
	ColInfoboxKey      = "infobox_key"
	ColTemplate        = "template"
	ColPropertyName    = "property_name"
	ColPropertyType    = "property_type"
	ColPreviousValue   = "previous_value"
	ColCurrentValue    = "current_value"
	ColValueValidFrom  = "value_valid_from"
	ColValueValidTo    = "value_valid_to"
	ColRevisionID      = "revision_id"
	ColRevisionValidTo = "revision_valid_to"
	ColEditType        = "edit_type"
	ColComment         = "comment"
	ColUsername        = "username"
	ColUserID          = "user_id"
	ColPosition        = "position"
	ColNumChanges      = "num_changes"
)

// ChangeEvent is one observed mutation of one infobox property.
// Values are plain strings; the empty string means the value was absent.
type ChangeEvent struct {
	PageID          int64      `json:"page_id" db:"page_id"`
	PageTitle       string     `json:"page_title,omitempty" db:"page_title"`
	InfoboxKey      string     `json:"infobox_key" db:"infobox_key"`
	Template        string     `json:"template,omitempty" db:"template"`
	PropertyName    string     `json:"property_name" db:"property_name"`
	PropertyType    string     `json:"property_type,omitempty" db:"property_type"`
	PreviousValue   string     `json:"previous_value" db:"previous_value"`
	CurrentValue    string     `json:"current_value" db:"current_value"`
	ValueValidFrom  time.Time  `json:"value_valid_from" db:"value_valid_from"`
	ValueValidTo    *time.Time `json:"value_valid_to,omitempty" db:"value_valid_to"`
	RevisionID      int64      `json:"revision_id,omitempty" db:"revision_id"`
	RevisionValidTo *time.Time `json:"revision_valid_to,omitempty" db:"revision_valid_to"`
	EditType        string     `json:"edit_type,omitempty" db:"edit_type"`
	Comment         string     `json:"comment,omitempty" db:"comment"`
	Username        string     `json:"username,omitempty" db:"username"`
	UserID          string     `json:"user_id,omitempty" db:"user_id"`
	Position        int        `json:"position,omitempty" db:"position"`
	NumChanges      int        `json:"num_changes" db:"num_changes"`
}

// Changes returns NumChanges, treating an unset count as a single edit.
func (e ChangeEvent) Changes() int {
	if e.NumChanges <= 0 {
		return 1
	}
	return e.NumChanges
}

// Attribute returns the string form of a named column.
func (e ChangeEvent) Attribute(name string) (string, bool) {
	switch name {
	case ColPageID:
		return strconv.FormatInt(e.PageID, 10), true
	case ColPageTitle:
		return e.PageTitle, true
	case ColInfoboxKey:
		return e.InfoboxKey, true
	case ColTemplate:
		return e.Template, true
	case ColPropertyName:
		return e.PropertyName, true
	case ColPropertyType:
		return e.PropertyType, true
	case ColPreviousValue:
		return e.PreviousValue, true
	case ColCurrentValue:
		return e.CurrentValue, true
	case ColValueValidFrom:
		return e.ValueValidFrom.UTC().Format(time.RFC3339), true
	case ColValueValidTo:
		return formatOptionalTime(e.ValueValidTo), true
	case ColRevisionID:
		return strconv.FormatInt(e.RevisionID, 10), true
	case ColRevisionValidTo:
		return formatOptionalTime(e.RevisionValidTo), true
	case ColEditType:
		return e.EditType, true
	case ColComment:
		return e.Comment, true
	case ColUsername:
		return e.Username, true
	case ColUserID:
		return e.UserID, true
	case ColPosition:
		return strconv.Itoa(e.Position), true
	case ColNumChanges:
		return strconv.Itoa(e.Changes()), true
	}
	return "", false
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Day returns the UTC calendar date of t.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameProperty reports whether two events belong to the same property series.
func SameProperty(a, b ChangeEvent) bool {
	return a.InfoboxKey == b.InfoboxKey && a.PropertyName == b.PropertyName
}

// SamePropertyDay reports whether two events touch the same property on the same day.
func SamePropertyDay(a, b ChangeEvent) bool {
	return SameProperty(a, b) && Day(a.ValueValidFrom).Equal(Day(b.ValueValidFrom))
}

// TimePtr is a small helper for building optional timestamps.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// CloneTime copies an optional timestamp so the result does not alias the input.
func CloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Clone returns a copy of e whose optional timestamps do not alias e's.
func (e ChangeEvent) Clone() ChangeEvent {
	c := e
	c.ValueValidTo = CloneTime(e.ValueValidTo)
	c.RevisionValidTo = CloneTime(e.RevisionValidTo)
	return c
}

// String renders a compact identification of the event for logs.
func (e ChangeEvent) String() string {
	var b strings.Builder
	b.WriteString(e.InfoboxKey)
	b.WriteString("/")
	b.WriteString(e.PropertyName)
	b.WriteString("@")
	b.WriteString(e.ValueValidFrom.UTC().Format(time.RFC3339))
	return b.String()
}
