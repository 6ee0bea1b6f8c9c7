package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

// GetActiveSubscription returns the user's active subscription, or ErrNotFound.
func GetActiveSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.SubscriptionActive).
		Order("created_at desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSubscriptionByStripeID looks a subscription up by the provider id.
func GetSubscriptionByStripeID(ctx context.Context, db *gorm.DB, stripeID string) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := db.WithContext(ctx).First(&s, "stripe_subscription_id = ?", stripeID).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSubscription inserts s, or refreshes status, plan, credits and period
// of the row carrying the same provider id. It returns the stored row, or
// ErrDuplicate when the write would leave the user with two active rows.
func UpsertSubscription(ctx context.Context, db *gorm.DB, s *domain.Subscription) (*domain.Subscription, error) {
	existing, err := GetSubscriptionByStripeID(ctx, db, s.StripeSubscriptionID)
	switch {
	case err == nil:
		updates := map[string]any{
			"status":             s.Status,
			"plan_id":            s.PlanID,
			"monthly_credits":    s.MonthlyCredits,
			"current_period_end": s.CurrentPeriodEnd,
			"updated_at":         time.Now().UTC(),
		}
		if s.Status == domain.SubscriptionCanceled && existing.CanceledAt == nil {
			updates["canceled_at"] = time.Now().UTC()
		}
		if err := db.WithContext(ctx).Model(existing).Updates(updates).Error; err != nil {
			if isDuplicate(err) {
				return nil, ErrDuplicate
			}
			return nil, err
		}
		return GetSubscriptionByStripeID(ctx, db, s.StripeSubscriptionID)
	case errors.Is(err, ErrNotFound):
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if err := db.WithContext(ctx).Create(s).Error; err != nil {
			if isDuplicate(err) {
				return nil, ErrDuplicate
			}
			return nil, err
		}
		return s, nil
	default:
		return nil, err
	}
}

// SetSubscriptionStatus updates the status of the row with the provider id.
func SetSubscriptionStatus(ctx context.Context, db *gorm.DB, stripeID, status string) error {
	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	if status == domain.SubscriptionCanceled {
		updates["canceled_at"] = time.Now().UTC()
	}
	res := db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("stripe_subscription_id = ?", stripeID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueRefills returns active subscriptions never refilled or last refilled
// before cutoff.
func ListDueRefills(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error) {
	var out []domain.Subscription
	q := db.WithContext(ctx).
		Where("status = ? AND monthly_credits > 0", domain.SubscriptionActive).
		Where("last_refilled_at IS NULL OR last_refilled_at < ?", cutoff).
		Order("created_at asc")
	err := paginate(q, 0, limit).Find(&out).Error
	return out, err
}

// MarkRefilled stamps the refill time of a subscription.
func MarkRefilled(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_refilled_at": at, "updated_at": time.Now().UTC()}).Error
}
