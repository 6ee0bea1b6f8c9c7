package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
)

// ObjectLister lists and deletes stored images.
type ObjectLister interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, keys []string) ([]string, error)
}

// Cleanup deletes images older than Retention from the bucket, marks their
// generations purged and drops expired idempotency records.
type Cleanup struct {
	DB        *gorm.DB
	Store     ObjectLister
	Retention time.Duration
	Now       func() time.Time
}

// Name identifies the job in logs and metrics.
func (*Cleanup) Name() string { return "storage_cleanup" }

// Run performs one cleanup pass and returns the number of objects deleted.
// Partial listings and partial deletes still mark what was removed.
func (j *Cleanup) Run(ctx context.Context) (int, error) {
	ctx, span := observability.Tracer("jobs/Cleanup").Start(ctx, "Run")
	defer span.End()

	now := time.Now().UTC()
	if j.Now != nil {
		now = j.Now().UTC()
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	deleted := 0
	if j.Store != nil && j.Retention > 0 {
		keys, err := j.Store.ListOlderThan(ctx, now.Add(-j.Retention))
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Int("listed", len(keys)).Msg("cleanup: listing incomplete")
			keep(err)
		}
		if len(keys) > 0 {
			gone, err := j.Store.Delete(ctx, keys)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Int("deleted", len(gone)).Int("wanted", len(keys)).Msg("cleanup: delete incomplete")
				keep(err)
			}
			deleted = len(gone)
			if n, err := repo.MarkGenerationsPurged(ctx, j.DB, gone, now); err != nil {
				keep(fmt.Errorf("mark purged: %w", err))
			} else {
				log.Ctx(ctx).Info().Int("objects", deleted).Int64("generations", n).Msg("cleanup: purged images")
			}
		}
	}

	if n, err := repo.PurgeExpiredIdempotency(ctx, j.DB, now); err != nil {
		keep(fmt.Errorf("purge idempotency: %w", err))
	} else if n > 0 {
		log.Ctx(ctx).Info().Int64("records", n).Msg("cleanup: expired idempotency keys")
	}
	return deleted, firstErr
}
