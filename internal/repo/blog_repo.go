package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

// CreatePost inserts a blog post. A slug collision returns ErrDuplicate.
func CreatePost(ctx context.Context, db *gorm.DB, p *domain.BlogPost) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPost fetches a post by id regardless of status.
func GetPost(ctx context.Context, db *gorm.DB, id string) (*domain.BlogPost, error) {
	var p domain.BlogPost
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPublishedPostBySlug fetches a published post by slug.
func GetPublishedPostBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.BlogPost, error) {
	var p domain.BlogPost
	err := db.WithContext(ctx).
		Where("slug = ? AND status = ?", slug, domain.PostPublished).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SlugTaken reports whether slug is used by a post other than excludeID.
// Soft-deleted posts still hold their slug because the unique index covers them.
func SlugTaken(ctx context.Context, db *gorm.DB, slug, excludeID string) (bool, error) {
	var n int64
	q := db.WithContext(ctx).Unscoped().Model(&domain.BlogPost{}).Where("slug = ?", slug)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Count(&n).Error
	return n > 0, err
}

// SavePost persists all fields of an existing post.
func SavePost(ctx context.Context, db *gorm.DB, p *domain.BlogPost) error {
	p.UpdatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Save(p).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// DeletePost soft-deletes a post.
func DeletePost(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Delete(&domain.BlogPost{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPostsPage lists posts, optionally filtered by status. Published posts
// sort by publication date, everything else by last update.
func ListPostsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.BlogPost, error) {
	var out []domain.BlogPost
	q := db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if status == domain.PostPublished {
		q = q.Order("published_at desc")
	} else {
		q = q.Order("updated_at desc")
	}
	err := paginate(q, offset, limit).Find(&out).Error
	return out, err
}

// CountPosts counts posts, optionally filtered by status.
func CountPosts(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.BlogPost{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&n).Error
	return n, err
}
