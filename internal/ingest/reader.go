// Package ingest reads change event dumps and loads them into the event store.
package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/changecast/internal/changes"
)

// ErrUnsupportedFormat is returned for files that are neither JSONL nor CSV.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// maxLineSize bounds a single JSONL record; comments can be long.
const maxLineSize = 4 << 20

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// requiredColumns must be present in a CSV header.
var requiredColumns = []string{changes.ColInfoboxKey, changes.ColPropertyName, changes.ColValueValidFrom}

// ReadFile loads change events from a .jsonl/.ndjson or .csv file, sorted for filtering.
func ReadFile(path string) ([]changes.ChangeEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var events []changes.ChangeEvent
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl", ".ndjson", ".json":
		events, err = ReadJSONL(file)
	case ".csv":
		events, err = ReadCSV(file)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

// ReadJSONL decodes one change event per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]changes.ChangeEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var events []changes.ChangeEvent
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var ev changes.ChangeEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		normalize(&ev)
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read change events: %w", err)
	}

	changes.SortForFiltering(events)
	return events, nil
}

// ReadCSV decodes change events from CSV with a header row naming the columns.
// Unknown columns are ignored.
func ReadCSV(r io.Reader) ([]changes.ChangeEvent, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make([]string, len(header))
	index := make(map[string]bool, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(h))
		index[columns[i]] = true
	}
	for _, c := range requiredColumns {
		if !index[c] {
			return nil, fmt.Errorf("CSV missing required %q column", c)
		}
	}

	var events []changes.ChangeEvent
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", row, err)
		}

		var ev changes.ChangeEvent
		for i, value := range record {
			if i >= len(columns) {
				break
			}
			if err := setColumn(&ev, columns[i], value); err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", row, columns[i], err)
			}
		}
		normalize(&ev)
		events = append(events, ev)
	}

	changes.SortForFiltering(events)
	return events, nil
}

// setColumn is the inverse of ChangeEvent.Attribute for CSV input.
func setColumn(ev *changes.ChangeEvent, column, value string) error {
	var err error
	switch column {
	case changes.ColPageID:
		ev.PageID, err = parseInt64(value)
	case changes.ColPageTitle:
		ev.PageTitle = value
	case changes.ColInfoboxKey:
		ev.InfoboxKey = value
	case changes.ColTemplate:
		ev.Template = value
	case changes.ColPropertyName:
		ev.PropertyName = value
	case changes.ColPropertyType:
		ev.PropertyType = value
	case changes.ColPreviousValue:
		ev.PreviousValue = value
	case changes.ColCurrentValue:
		ev.CurrentValue = value
	case changes.ColValueValidFrom:
		ev.ValueValidFrom, err = parseTime(value)
	case changes.ColValueValidTo:
		ev.ValueValidTo, err = parseOptionalTime(value)
	case changes.ColRevisionID:
		ev.RevisionID, err = parseInt64(value)
	case changes.ColRevisionValidTo:
		ev.RevisionValidTo, err = parseOptionalTime(value)
	case changes.ColEditType:
		ev.EditType = strings.ToUpper(value)
	case changes.ColComment:
		ev.Comment = value
	case changes.ColUsername:
		ev.Username = value
	case changes.ColUserID:
		ev.UserID = value
	case changes.ColPosition:
		ev.Position, err = parseInt(value)
	case changes.ColNumChanges:
		ev.NumChanges, err = parseInt(value)
	}
	return err
}

func normalize(ev *changes.ChangeEvent) {
	ev.ValueValidFrom = ev.ValueValidFrom.UTC()
	if ev.ValueValidTo != nil {
		t := ev.ValueValidTo.UTC()
		ev.ValueValidTo = &t
	}
	if ev.RevisionValidTo != nil {
		t := ev.RevisionValidTo.UTC()
		ev.RevisionValidTo = &t
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseInt64(s string) (int64, error) {
	if s = strings.TrimSpace(s); s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseInt(s string) (int, error) {
	if s = strings.TrimSpace(s); s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// WriteJSONL writes events one per line.
func WriteJSONL(w io.Writer, events []changes.ChangeEvent) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("failed to encode %s: %w", events[i], err)
		}
	}
	return bw.Flush()
}

// WriteFile writes events as JSONL to path, creating parent directories.
func WriteFile(path string, events []changes.ChangeEvent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSONL(file, events); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
