// Package jobs holds the periodic batch work: monthly credit refills for
// active subscriptions and storage cleanup. A Scheduler runs them on tickers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/events"
	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
)

// Refill grants the monthly credits of every active subscription whose last
// refill is at least Period old.
type Refill struct {
	DB     *gorm.DB
	Events events.Publisher
	Period time.Duration
	Batch  int
	Now    func() time.Time
}

// Name identifies the job in logs and metrics.
func (*Refill) Name() string { return "credit_refill" }

// Run processes one batch of due subscriptions and returns how many were
// credited. A failing row is logged and skipped; the returned error then
// reports how many rows failed.
func (j *Refill) Run(ctx context.Context) (int, error) {
	ctx, span := observability.Tracer("jobs/Refill").Start(ctx, "Run")
	defer span.End()

	now := j.now()
	due, err := repo.ListDueRefills(ctx, j.DB, now.Add(-j.Period), j.batch())
	if err != nil {
		return 0, fmt.Errorf("list due refills: %w", err)
	}

	granted, failed := 0, 0
	for i := range due {
		sub := &due[i]
		ok, err := j.refill(ctx, sub, now)
		if err != nil {
			failed++
			log.Ctx(ctx).Error().Err(err).Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("refill failed")
			continue
		}
		if ok {
			granted++
		}
	}
	if failed > 0 {
		return granted, fmt.Errorf("%d of %d refills failed", failed, len(due))
	}
	return granted, nil
}

// refill grants one period of credits and stamps the row in the same
// transaction. The ledger ref names the period, so a retried period only
// stamps the row.
func (j *Refill) refill(ctx context.Context, sub *domain.Subscription, now time.Time) (bool, error) {
	ref := sub.ID + ":" + periodKey(sub, j.Period)
	granted := false
	err := j.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := repo.GrantCredits(ctx, tx, sub.UserID, sub.MonthlyCredits, domain.ReasonRefill, ref)
		switch {
		case err == nil:
			granted = true
		case errors.Is(err, repo.ErrDuplicate):
		default:
			return err
		}
		return repo.MarkRefilled(ctx, tx, sub.ID, now)
	})
	if err != nil || !granted {
		return false, err
	}

	observability.CreditsGranted.WithLabelValues(domain.ReasonRefill).Add(float64(sub.MonthlyCredits))
	if j.Events != nil {
		ev := events.Event{
			Type:       events.TypeCreditsRefilled,
			UserID:     sub.UserID,
			ResourceID: sub.ID,
			Data:       map[string]any{"credits": sub.MonthlyCredits, "ref": ref},
			OccurredAt: now,
		}
		if err := j.Events.Publish(ctx, ev); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("subscription_id", sub.ID).Msg("publish refill event")
		}
	}
	return true, nil
}

// periodKey is the date the refill became due: one period after the last
// refill, or the subscription start when it was never refilled.
func periodKey(sub *domain.Subscription, period time.Duration) string {
	due := sub.CreatedAt
	if sub.LastRefilledAt != nil {
		due = sub.LastRefilledAt.Add(period)
	}
	return due.UTC().Format("2006-01-02")
}

func (j *Refill) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

func (j *Refill) batch() int {
	if j.Batch <= 0 {
		return 100
	}
	return j.Batch
}
