package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

// CreateAPIKey stores a new admin key. A prefix collision returns ErrDuplicate.
func CreateAPIKey(ctx context.Context, db *gorm.DB, k *domain.AdminAPIKey) error {
	if err := db.WithContext(ctx).Create(k).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetAPIKeyByPrefix fetches a key by its public prefix.
func GetAPIKeyByPrefix(ctx context.Context, db *gorm.DB, prefix string) (*domain.AdminAPIKey, error) {
	var k domain.AdminAPIKey
	if err := db.WithContext(ctx).First(&k, "prefix = ?", prefix).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

// ListAPIKeys returns every key, newest first.
func ListAPIKeys(ctx context.Context, db *gorm.DB) ([]domain.AdminAPIKey, error) {
	var out []domain.AdminAPIKey
	err := db.WithContext(ctx).Order("created_at desc").Find(&out).Error
	return out, err
}

// RevokeAPIKey stamps revoked_at on an active key.
func RevokeAPIKey(ctx context.Context, db *gorm.DB, prefix string, at time.Time) error {
	res := db.WithContext(ctx).Model(&domain.AdminAPIKey{}).
		Where("prefix = ? AND revoked_at IS NULL", prefix).
		Updates(map[string]any{"revoked_at": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey records the last successful use of a key.
func TouchAPIKey(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.AdminAPIKey{}).
		Where("id = ?", id).
		UpdateColumn("last_used_at", at).Error
}
