package handlers

import (
	"context"
	"time"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
)

// UserService manages the caller's profile, balance and history.
type UserService interface {
	Get(ctx context.Context, userID, email string) (*services.Account, error)
	Update(ctx context.Context, userID, email string, displayName, avatarURL *string) (*domain.Profile, error)
	Delete(ctx context.Context, userID string) error
	Generations(ctx context.Context, userID string, page, pageSize int) ([]domain.Generation, int64, error)
	GenerationStats(ctx context.Context, userID string) (int64, *time.Time, error)
	CreditHistory(ctx context.Context, userID string, page, pageSize int) ([]domain.CreditTransaction, int64, error)
}

// BillingService sells topups and plans.
type BillingService interface {
	Plans() domain.Catalog
	CheckoutTopup(ctx context.Context, userID, email, packageID string) (*services.Checkout, error)
	CheckoutSubscription(ctx context.Context, userID, email, planID string) (*services.Checkout, error)
	VerifyTopup(ctx context.Context, userID, sessionID string) (*services.Settlement, error)
	VerifySubscription(ctx context.Context, userID, sessionID string) (*services.Settlement, error)
	Cancel(ctx context.Context, userID string) (*domain.Subscription, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// GenerationService runs image jobs. The bool result reports a replay of an
// earlier request with the same idempotency key.
type GenerationService interface {
	Generate(ctx context.Context, c services.Caller, in services.GenerateInput) (*domain.Generation, bool, error)
	Upscale(ctx context.Context, c services.Caller, in services.UpscaleInput) (*domain.Generation, bool, error)
	RemoveBackground(ctx context.Context, c services.Caller, in services.RemoveBackgroundInput) (*domain.Generation, bool, error)
	Get(ctx context.Context, userID, id string) (*domain.Generation, error)
}

// PromptService rewrites prompts.
type PromptService interface {
	Enhance(ctx context.Context, prompt string) (*services.Enhancement, error)
}

// BlogService backs the admin CMS and the public blog.
type BlogService interface {
	Create(ctx context.Context, authorKeyID string, in services.PostInput) (*domain.BlogPost, error)
	Get(ctx context.Context, id string) (*domain.BlogPost, error)
	Update(ctx context.Context, id string, in services.PostInput) (*domain.BlogPost, error)
	Publish(ctx context.Context, id string) (*domain.BlogPost, error)
	Unpublish(ctx context.Context, id string) (*domain.BlogPost, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, status string, page, pageSize int) ([]domain.BlogPost, int64, error)
	Published(ctx context.Context, page, pageSize int) ([]domain.BlogPost, int64, error)
	PublishedStats(ctx context.Context) (int64, *time.Time, error)
	BySlug(ctx context.Context, slug string) (*domain.BlogPost, error)
	Search(ctx context.Context, q string, limit int) ([]services.SearchHit, error)
}

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps lists the services behind the handlers. Nil services leave their
// routes unmounted by the router.
type Deps struct {
	Users       UserService
	Billing     BillingService
	Generations GenerationService
	Prompts     PromptService
	Blog        BlogService
	DB          Pinger
}

// Handlers groups every HTTP endpoint of the API.
type Handlers struct {
	users   UserService
	billing BillingService
	gens    GenerationService
	prompts PromptService
	blog    BlogService
	db      Pinger
}

// New returns handlers bound to d.
func New(d Deps) *Handlers {
	return &Handlers{
		users:   d.Users,
		billing: d.Billing,
		gens:    d.Generations,
		prompts: d.Prompts,
		blog:    d.Blog,
		db:      d.DB,
	}
}
