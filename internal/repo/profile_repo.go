package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

// GetProfile fetches a profile by user id, or ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).First(&p, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile inserts a profile if none exists and reports whether it was
// created by this call. The email is refreshed when it changed upstream.
// It returns ErrDeleted when the user id belongs to a deleted account.
func EnsureProfile(ctx context.Context, db *gorm.DB, userID, email string) (*domain.Profile, bool, error) {
	db = db.WithContext(ctx)
	now := time.Now().UTC()
	p := &domain.Profile{ID: userID, Email: email, CreatedAt: now, UpdatedAt: now}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return nil, false, res.Error
	}
	created := res.RowsAffected == 1

	got, err := GetProfile(ctx, db, userID)
	if errors.Is(err, ErrNotFound) && !created {
		// the insert collided with a soft-deleted row
		return nil, false, ErrDeleted
	}
	if err != nil {
		return nil, false, err
	}
	if !created && email != "" && got.Email != email {
		if err := db.Model(got).Updates(map[string]any{"email": email, "updated_at": now}).Error; err != nil {
			return nil, false, err
		}
		got.Email = email
	}
	return got, created, nil
}

// UpdateProfile applies non-nil fields.
func UpdateProfile(ctx context.Context, db *gorm.DB, userID string, displayName, avatarURL *string) (*domain.Profile, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if displayName != nil {
		updates["display_name"] = *displayName
	}
	if avatarURL != nil {
		updates["avatar_url"] = *avatarURL
	}
	res := db.WithContext(ctx).Model(&domain.Profile{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetProfile(ctx, db, userID)
}

// SetStripeCustomerID remembers the provider customer for later checkouts.
func SetStripeCustomerID(ctx context.Context, db *gorm.DB, userID, customerID string) error {
	return db.WithContext(ctx).Model(&domain.Profile{}).
		Where("id = ?", userID).
		Updates(map[string]any{"stripe_customer_id": customerID, "updated_at": time.Now().UTC()}).Error
}

// DeleteUserData hard-deletes every row owned by userID and leaves the
// profile as a scrubbed, soft-deleted tombstone so the id cannot be signed up
// again. Run it inside a transaction.
func DeleteUserData(ctx context.Context, tx *gorm.DB, userID string) error {
	tx = tx.WithContext(ctx)
	for _, m := range []any{
		&domain.Idempotency{},
		&domain.Generation{},
		&domain.CreditTransaction{},
		&domain.Payment{},
		&domain.Subscription{},
		&domain.CreditBalance{},
	} {
		if err := tx.Where("user_id = ?", userID).Delete(m).Error; err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	res := tx.Unscoped().Model(&domain.Profile{}).Where("id = ?", userID).Updates(map[string]any{
		"email":              "",
		"display_name":       "",
		"avatar_url":         "",
		"stripe_customer_id": "",
		"updated_at":         now,
		"deleted_at":         now,
	})
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}
	return tx.Create(&domain.Profile{
		ID:        userID,
		CreatedAt: now,
		UpdatedAt: now,
		DeletedAt: gorm.DeletedAt{Time: now, Valid: true},
	}).Error
}
