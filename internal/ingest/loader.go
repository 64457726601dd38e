package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/changecast/internal/changes"
	"github.com/sawpanic/changecast/internal/persistence"
)

// DefaultBatchSize is used when a loader is created with a non-positive batch size.
const DefaultBatchSize = 500

// Loader writes change events to the store in paced batches.
type Loader struct {
	repo      persistence.ChangeEventRepo
	batchSize int
	limiter   *rate.Limiter
}

// LoadStats summarises one Load call.
type LoadStats struct {
	Events     int           `json:"events"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Batches    int           `json:"batches"`
	Duration   time.Duration `json:"duration"`
}

// NewLoader creates a loader. ratePerSecond bounds batch inserts per second;
// zero disables pacing.
func NewLoader(repo persistence.ChangeEventRepo, batchSize int, ratePerSecond float64) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Loader{
		repo:      repo,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Load inserts events batch by batch. A batch rejected for a duplicate is
// retried one event at a time so only the duplicates are skipped.
func (l *Loader) Load(ctx context.Context, events []changes.ChangeEvent) (LoadStats, error) {
	start := time.Now()
	stats := LoadStats{Events: len(events)}

	for from := 0; from < len(events); from += l.batchSize {
		to := from + l.batchSize
		if to > len(events) {
			to = len(events)
		}
		batch := events[from:to]

		if err := l.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		stats.Batches++

		err := l.repo.InsertBatch(ctx, batch)
		switch {
		case err == nil:
			stats.Inserted += len(batch)
		case errors.Is(err, persistence.ErrDuplicateEvent):
			log.Warn().Int("batch", stats.Batches).Msg("Batch contains stored events, inserting one by one")
			inserted, dups, err := l.insertEach(ctx, batch)
			stats.Inserted += inserted
			stats.Duplicates += dups
			if err != nil {
				return stats, err
			}
		default:
			return stats, fmt.Errorf("failed to insert batch %d: %w", stats.Batches, err)
		}

		log.Debug().
			Int("batch", stats.Batches).
			Int("inserted", stats.Inserted).
			Int("total", stats.Events).
			Msg("Batch loaded")
	}

	stats.Duration = time.Since(start)
	log.Info().
		Int("events", stats.Events).
		Int("inserted", stats.Inserted).
		Int("duplicates", stats.Duplicates).
		Int("batches", stats.Batches).
		Dur("duration", stats.Duration).
		Msg("Change events loaded")
	return stats, nil
}

func (l *Loader) insertEach(ctx context.Context, batch []changes.ChangeEvent) (inserted, duplicates int, err error) {
	for i := range batch {
		err := l.repo.InsertBatch(ctx, batch[i:i+1])
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, persistence.ErrDuplicateEvent):
			duplicates++
		default:
			return inserted, duplicates, fmt.Errorf("failed to insert %s: %w", batch[i], err)
		}
	}
	return inserted, duplicates, nil
}
