package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
	"github.com/rahu7v3rma/soreal-sub001/internal/search"
)

const (
	maxTitleRunes   = 255
	maxExcerptRunes = 500
	maxSlugLen      = 200
	maxTags         = 10
	maxTagRunes     = 40
	autoExcerpt     = 280
	indexBatch      = 200
)

// PostInput carries the writable fields of a post. Nil fields are left
// unchanged on update; Create requires Title and Body.
type PostInput struct {
	Title    *string   `json:"title"`
	Slug     *string   `json:"slug"`
	Excerpt  *string   `json:"excerpt"`
	Body     *string   `json:"body"`
	CoverURL *string   `json:"cover_url"`
	Tags     *[]string `json:"tags"`
}

// SearchHit is one ranked published post.
type SearchHit struct {
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	Score       float64    `json:"score"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// BlogService manages blog posts for the admin CMS and serves the public
// read side. Search runs against an in-memory index of published posts that
// is rebuilt lazily after any change to published content.
type BlogService struct {
	DB *gorm.DB

	mu    sync.RWMutex
	index search.Index
	byID  map[string]domain.BlogPost
}

// Create inserts a draft. The slug is derived from the title unless given;
// derived slugs get a numeric suffix on collision, explicit ones fail.
func (s *BlogService) Create(ctx context.Context, authorKeyID string, in PostInput) (*domain.BlogPost, error) {
	if in.Title == nil || in.Body == nil {
		return nil, fmt.Errorf("%w: title and body are required", ErrInvalidPost)
	}
	p := &domain.BlogPost{ID: uuid.NewString(), Status: domain.PostDraft, AuthorKeyID: authorKeyID, Tags: []string{}}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if err := repo.CreatePost(ctx, s.DB, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrSlugTaken
		}
		return nil, err
	}
	return p, nil
}

// Get returns a post of any status.
func (s *BlogService) Get(ctx context.Context, id string) (*domain.BlogPost, error) {
	p, err := repo.GetPost(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPostNotFound
	}
	return p, err
}

// Update applies in to the post.
func (s *BlogService) Update(ctx context.Context, id string, in PostInput) (*domain.BlogPost, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if err := repo.SavePost(ctx, s.DB, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrSlugTaken
		}
		return nil, err
	}
	if p.Status == domain.PostPublished {
		s.invalidate()
	}
	return p, nil
}

// Publish makes the post public. The first publication date is kept on
// republish.
func (s *BlogService) Publish(ctx context.Context, id string) (*domain.BlogPost, error) {
	return s.setStatus(ctx, id, domain.PostPublished)
}

// Unpublish turns the post back into a draft.
func (s *BlogService) Unpublish(ctx context.Context, id string) (*domain.BlogPost, error) {
	return s.setStatus(ctx, id, domain.PostDraft)
}

func (s *BlogService) setStatus(ctx context.Context, id, status string) (*domain.BlogPost, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == status {
		return p, nil
	}
	p.Status = status
	if status == domain.PostPublished && p.PublishedAt == nil {
		now := time.Now().UTC()
		p.PublishedAt = &now
	}
	if err := repo.SavePost(ctx, s.DB, p); err != nil {
		return nil, err
	}
	s.invalidate()
	return p, nil
}

// Delete soft-deletes a post. Its slug stays reserved.
func (s *BlogService) Delete(ctx context.Context, id string) error {
	err := repo.DeletePost(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrPostNotFound
	}
	if err == nil {
		s.invalidate()
	}
	return err
}

// List pages through posts, optionally filtered by status.
func (s *BlogService) List(ctx context.Context, status string, page, pageSize int) ([]domain.BlogPost, int64, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != domain.PostDraft && status != domain.PostPublished {
		return nil, 0, fmt.Errorf("%w: status must be draft or published", ErrInvalidPost)
	}
	offset, limit := pageBounds(page, pageSize)
	total, err := repo.CountPosts(ctx, s.DB, status)
	if err != nil || total == 0 {
		return []domain.BlogPost{}, total, err
	}
	items, err := repo.ListPostsPage(ctx, s.DB, status, offset, limit)
	return items, total, err
}

// Published pages through published posts, newest first.
func (s *BlogService) Published(ctx context.Context, page, pageSize int) ([]domain.BlogPost, int64, error) {
	return s.List(ctx, domain.PostPublished, page, pageSize)
}

// PublishedStats returns the count and last update of published posts, for
// conditional GETs.
func (s *BlogService) PublishedStats(ctx context.Context) (int64, *time.Time, error) {
	return repo.PublishedPostsStats(ctx, s.DB)
}

// BySlug returns a published post.
func (s *BlogService) BySlug(ctx context.Context, slugStr string) (*domain.BlogPost, error) {
	p, err := repo.GetPublishedPostBySlug(ctx, s.DB, strings.ToLower(strings.TrimSpace(slugStr)))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPostNotFound
	}
	return p, err
}

// Search ranks published posts against q.
func (s *BlogService) Search(ctx context.Context, q string, limit int) ([]SearchHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: q is required", ErrInvalidPost)
	}
	ctx, span := observability.Tracer("services/BlogService").Start(ctx, "Search")
	defer span.End()

	ix, byID, err := s.currentIndex(ctx)
	if err != nil {
		return nil, err
	}
	res := ix.TopK(q, limit)
	out := make([]SearchHit, 0, len(res))
	for _, r := range res {
		p, ok := byID[r.ID]
		if !ok {
			continue
		}
		ex := p.Excerpt
		if ex == "" {
			ex = r.Excerpt
		}
		out = append(out, SearchHit{Slug: p.Slug, Title: p.Title, Excerpt: ex, Score: r.Score, PublishedAt: p.PublishedAt})
	}
	return out, nil
}

func (s *BlogService) currentIndex(ctx context.Context) (search.Index, map[string]domain.BlogPost, error) {
	s.mu.RLock()
	ix, byID := s.index, s.byID
	s.mu.RUnlock()
	if ix != nil {
		return ix, byID, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		return s.index, s.byID, nil
	}
	docs := []search.Document{}
	byID = map[string]domain.BlogPost{}
	for offset := 0; ; offset += indexBatch {
		posts, err := repo.ListPostsPage(ctx, s.DB, domain.PostPublished, offset, indexBatch)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range posts {
			byID[p.ID] = p
			text := search.PlainText(p.Body) + "\n" + strings.Join(p.Tags, " ")
			docs = append(docs, search.Document{ID: p.ID, Title: p.Title, Text: text})
		}
		if len(posts) < indexBatch {
			break
		}
	}
	s.index = search.New(docs, search.WithStopwords(search.DefaultStopwords))
	s.byID = byID
	return s.index, s.byID, nil
}

func (s *BlogService) invalidate() {
	s.mu.Lock()
	s.index, s.byID = nil, nil
	s.mu.Unlock()
}

// apply validates in and copies it onto p, resolving the slug. An excerpt
// that was derived from the old body follows the new one.
func (s *BlogService) apply(ctx context.Context, p *domain.BlogPost, in PostInput) error {
	derived := p.Excerpt == "" || p.Excerpt == search.Summary(p.Body, autoExcerpt)
	if in.Title != nil {
		t := strings.Join(strings.Fields(*in.Title), " ")
		if t == "" || utf8.RuneCountInString(t) > maxTitleRunes {
			return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidPost, maxTitleRunes)
		}
		p.Title = t
	}
	if in.Body != nil {
		b := strings.TrimSpace(*in.Body)
		if b == "" {
			return fmt.Errorf("%w: body is required", ErrInvalidPost)
		}
		p.Body = b
	}
	if in.Excerpt != nil {
		e := strings.TrimSpace(*in.Excerpt)
		if utf8.RuneCountInString(e) > maxExcerptRunes {
			return fmt.Errorf("%w: excerpt exceeds %d characters", ErrInvalidPost, maxExcerptRunes)
		}
		p.Excerpt = e
	}
	if p.Excerpt == "" || (in.Excerpt == nil && derived) {
		p.Excerpt = search.Summary(p.Body, autoExcerpt)
	}
	if in.CoverURL != nil {
		u := strings.TrimSpace(*in.CoverURL)
		if u != "" && !isHTTPURL(u) {
			return fmt.Errorf("%w: cover_url must be an http(s) URL", ErrInvalidPost)
		}
		p.CoverURL = u
	}
	if in.Tags != nil {
		tags, err := normalizeTags(*in.Tags)
		if err != nil {
			return err
		}
		p.Tags = tags
	}

	switch {
	case in.Slug != nil && strings.TrimSpace(*in.Slug) != "":
		want := strings.TrimSpace(*in.Slug)
		if !slug.IsSlug(want) || len(want) > maxSlugLen {
			return fmt.Errorf("%w: slug must be lowercase words joined by hyphens", ErrInvalidPost)
		}
		taken, err := repo.SlugTaken(ctx, s.DB, want, p.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlugTaken
		}
		p.Slug = want
	case p.Slug == "":
		sl, err := s.uniqueSlug(ctx, p.Title, p.ID)
		if err != nil {
			return err
		}
		p.Slug = sl
	}
	return nil
}

func (s *BlogService) uniqueSlug(ctx context.Context, title, excludeID string) (string, error) {
	base := slug.Make(title)
	if len(base) > maxSlugLen-9 {
		base = strings.Trim(base[:maxSlugLen-9], "-")
	}
	if base == "" {
		base = "post"
	}
	for i := 1; i <= 20; i++ {
		cand := base
		if i > 1 {
			cand = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := repo.SlugTaken(ctx, s.DB, cand, excludeID)
		if err != nil {
			return "", err
		}
		if !taken {
			return cand, nil
		}
	}
	return base + "-" + uuid.NewString()[:8], nil
}

func normalizeTags(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagRunes {
			return nil, fmt.Errorf("%w: tag %q exceeds %d characters", ErrInvalidPost, t, maxTagRunes)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, fmt.Errorf("%w: at most %d tags", ErrInvalidPost, maxTags)
	}
	return out, nil
}
