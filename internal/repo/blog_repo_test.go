package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

func TestBlogPosts_CRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &domain.BlogPost{Slug: "hello", Title: "Hello", Body: "body", Status: domain.PostDraft}
	if err := CreatePost(ctx, db, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := CreatePost(ctx, db, &domain.BlogPost{Slug: "hello", Title: "x", Body: "y", Status: domain.PostDraft}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if taken, _ := SlugTaken(ctx, db, "hello", p.ID); taken {
		t.Fatalf("slug should not collide with itself")
	}
	if taken, _ := SlugTaken(ctx, db, "hello", ""); !taken {
		t.Fatalf("slug should be taken")
	}

	if _, err := GetPublishedPostBySlug(ctx, db, "hello"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("draft must not be public: %v", err)
	}
	now := time.Now().UTC()
	p.Status = domain.PostPublished
	p.PublishedAt = &now
	if err := SavePost(ctx, db, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, err := GetPublishedPostBySlug(ctx, db, "hello"); err != nil || got.ID != p.ID {
		t.Fatalf("published lookup: %+v %v", got, err)
	}

	if n, _ := CountPosts(ctx, db, domain.PostPublished); n != 1 {
		t.Fatalf("published count = %d", n)
	}
	list, err := ListPostsPage(ctx, db, "", 0, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %d %v", len(list), err)
	}
	c, ts, err := PublishedPostsStats(ctx, db)
	if err != nil || c != 1 || ts == nil {
		t.Fatalf("stats: %d %v %v", c, ts, err)
	}

	if err := DeletePost(ctx, db, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := DeletePost(ctx, db, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := GetPost(ctx, db, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted post visible: %v", err)
	}
	if taken, _ := SlugTaken(ctx, db, "hello", ""); !taken {
		t.Fatalf("soft-deleted post keeps its slug")
	}
}
