package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

// CreateGeneration inserts a pending generation row.
func CreateGeneration(ctx context.Context, db *gorm.DB, g *domain.Generation) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = domain.GenerationPending
	}
	return db.WithContext(ctx).Create(g).Error
}

// GetGeneration fetches a generation owned by userID.
func GetGeneration(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Generation, error) {
	var g domain.Generation
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// CompleteGeneration marks a pending generation succeeded.
func CompleteGeneration(ctx context.Context, db *gorm.DB, id, imageURL, storageKey string) error {
	return finishGeneration(ctx, db, id, map[string]any{
		"status":      domain.GenerationSucceeded,
		"image_url":   imageURL,
		"storage_key": storageKey,
	})
}

// FailGeneration marks a pending generation failed and zeroes its charge.
func FailGeneration(ctx context.Context, db *gorm.DB, id, reason string) error {
	return finishGeneration(ctx, db, id, map[string]any{
		"status":          domain.GenerationFailed,
		"error":           reason,
		"credits_charged": 0,
	})
}

func finishGeneration(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Generation{}).
		Where("id = ? AND status = ?", id, domain.GenerationPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGenerationsPage returns a user's generations, newest first.
func ListGenerationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Generation, error) {
	var out []domain.Generation
	q := db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	err := paginate(q, offset, limit).Find(&out).Error
	return out, err
}

// CountGenerations returns the number of generations owned by userID.
func CountGenerations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Generation{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// MarkGenerationsPurged clears the URL of generations whose object was
// deleted from storage.
func MarkGenerationsPurged(ctx context.Context, db *gorm.DB, storageKeys []string, at time.Time) (int64, error) {
	if len(storageKeys) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Model(&domain.Generation{}).
		Where("storage_key IN ? AND purged_at IS NULL", storageKeys).
		Updates(map[string]any{"purged_at": at, "image_url": "", "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}
