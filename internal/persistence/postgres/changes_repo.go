package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/changecast/internal/changes"
	"github.com/sawpanic/changecast/internal/persistence"
)


const eventColumns = `page_id, page_title, infobox_key, template, property_name, property_type,
	previous_value, current_value, value_valid_from, value_valid_to, revision_id,
	revision_valid_to, edit_type, comment, username, user_id, position, num_changes`

// changesRepo implements ChangeEventRepo for PostgreSQL
type changesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewChangesRepo creates a new PostgreSQL change event repository
func NewChangesRepo(db *sqlx.DB, timeout time.Duration) persistence.ChangeEventRepo {
	return &changesRepo{
		db:      db,
		timeout: timeout,
	}
}

// InsertBatch adds events atomically. The timeout scales with the batch size.
func (r *changesRepo) InsertBatch(ctx context.Context, events []changes.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(events)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO change_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if ev.InfoboxKey == "" || ev.PropertyName == "" {
			return fmt.Errorf("invalid event in batch: %s - infobox key and property name are required", ev)
		}
		_, err = stmt.ExecContext(ctx,
			ev.PageID, ev.PageTitle, ev.InfoboxKey, ev.Template, ev.PropertyName, ev.PropertyType,
			ev.PreviousValue, ev.CurrentValue, ev.ValueValidFrom.UTC(), utcPtr(ev.ValueValidTo), ev.RevisionID,
			utcPtr(ev.RevisionValidTo), ev.EditType, ev.Comment, ev.Username, ev.UserID, ev.Position, ev.Changes())
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("%w: %s", persistence.ErrDuplicateEvent, ev)
			}
			return fmt.Errorf("failed to insert change event in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// ListSorted returns the events of the window in filter order.
func (r *changesRepo) ListSorted(ctx context.Context, tr persistence.TimeRange) ([]changes.ChangeEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + eventColumns + `
		FROM change_events
		WHERE value_valid_from >= $1`
	args := []interface{}{tr.From.UTC()}
	if !tr.To.IsZero() {
		query += ` AND value_valid_from < $2`
		args = append(args, tr.To.UTC())
	}
	query += ` ORDER BY infobox_key, property_name, value_valid_from`

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListKeys returns the distinct group keys over the given columns.
func (r *changesRepo) ListKeys(ctx context.Context, keyColumns []string) ([]changes.GroupKey, error) {
	if err := changes.ValidateKeyColumns(keyColumns); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// column names come from the validated whitelist above
	cols := strings.Join(keyColumns, ", ")
	query := `SELECT DISTINCT ` + cols + ` FROM change_events ORDER BY ` + cols

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query group keys: %w", err)
	}
	defer rows.Close()

	var keys []changes.GroupKey
	for rows.Next() {
		var ev changes.ChangeEvent
		if err := rows.StructScan(&ev); err != nil {
			return nil, fmt.Errorf("failed to scan group key: %w", err)
		}
		keys = append(keys, changes.KeyOf(ev, keyColumns))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return keys, nil
}

// CountBefore counts events strictly before cutoff.
func (r *changesRepo) CountBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM change_events WHERE value_valid_from < $1`, cutoff.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count change events: %w", err)
	}
	return count, nil
}

func scanEvents(rows *sqlx.Rows) ([]changes.ChangeEvent, error) {
	var events []changes.ChangeEvent
	for rows.Next() {
		var ev changes.ChangeEvent
		if err := rows.StructScan(&ev); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		ev.ValueValidFrom = ev.ValueValidFrom.UTC()
		ev.ValueValidTo = utcPtr(ev.ValueValidTo)
		ev.RevisionValidTo = utcPtr(ev.RevisionValidTo)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
