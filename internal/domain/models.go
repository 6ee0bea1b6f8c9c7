// Package domain defines the persistence models for profiles, credits,
// billing, generations, blog posts and admin API keys. These types are mapped
// with GORM and form the core data layer of the service.
package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Profile is the local view of an authenticated user. ID is the subject
// claim issued by the auth platform, so no separate users table exists.
type Profile struct {
	ID               string         `json:"id"                 gorm:"type:varchar(64);primaryKey"`
	Email            string         `json:"email"              gorm:"type:varchar(320);not null;default:'';index"`
	DisplayName      string         `json:"display_name"       gorm:"type:varchar(120);not null;default:''"`
	AvatarURL        string         `json:"avatar_url"         gorm:"type:varchar(1024);not null;default:''"`
	StripeCustomerID string         `json:"-"                  gorm:"type:varchar(64);index"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                  gorm:"index"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// CreditBalance holds the spendable credit count of a user. Balance never
// goes below zero; debits are conditional updates.
type CreditBalance struct {
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);primaryKey"`
	Balance   int       `json:"balance"    gorm:"not null;default:0;check:chk_user_credits_balance,balance >= 0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CreditBalance.
func (CreditBalance) TableName() string { return "user_credits" }

// Ledger reasons.
const (
	ReasonSignup       = "signup"
	ReasonTopup        = "topup"
	ReasonSubscription = "subscription"
	ReasonRefill       = "refill"
	ReasonGeneration   = "generation"
	ReasonRefund       = "refund"
)

// CreditTransaction is one append-only ledger entry. (Reason, Ref) is unique,
// which makes every grant and refund safe to retry.
type CreditTransaction struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string    `json:"user_id"       gorm:"type:varchar(64);not null;index:idx_credit_tx_user,priority:1"`
	Delta        int       `json:"delta"         gorm:"not null"`
	Reason       string    `json:"reason"        gorm:"type:varchar(32);not null;uniqueIndex:ux_credit_tx_reason_ref,priority:1"`
	Ref          string    `json:"ref"           gorm:"type:varchar(255);not null;uniqueIndex:ux_credit_tx_reason_ref,priority:2"`
	BalanceAfter int       `json:"balance_after" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"    gorm:"index:idx_credit_tx_user,priority:2"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// Subscription statuses.
const (
	SubscriptionActive     = "active"
	SubscriptionCanceled   = "canceled"
	SubscriptionPastDue    = "past_due"
	SubscriptionIncomplete = "incomplete"
)

// Subscription mirrors a recurring plan at the payments provider. A user has
// at most one row in SubscriptionActive state.
type Subscription struct {
	ID                   string     `json:"id"                     gorm:"type:char(36);primaryKey"`
	UserID               string     `json:"user_id"                gorm:"type:varchar(64);not null;index"`
	PlanID               string     `json:"plan_id"                gorm:"type:varchar(64);not null"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	StripeCustomerID     string     `json:"-"                      gorm:"type:varchar(255);not null;default:''"`
	Status               string     `json:"status"                 gorm:"type:varchar(16);not null;index;check:status IN ('active','canceled','past_due','incomplete')"`
	MonthlyCredits       int        `json:"monthly_credits"        gorm:"not null;default:0"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	LastRefilledAt       *time.Time `json:"last_refilled_at,omitempty" gorm:"index"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// Payment kinds and statuses.
const (
	PaymentKindTopup        = "topup"
	PaymentKindSubscription = "subscription"

	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// Payment records a checkout session and its outcome.
type Payment struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	UserID          string    `json:"user_id"           gorm:"type:varchar(64);not null;index"`
	Kind            string    `json:"kind"              gorm:"type:varchar(16);not null;check:kind IN ('topup','subscription')"`
	ProductID       string    `json:"product_id"        gorm:"type:varchar(64);not null"`
	StripeSessionID string    `json:"stripe_session_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	AmountCents     int64     `json:"amount_cents"      gorm:"not null;default:0"`
	Currency        string    `json:"currency"          gorm:"type:varchar(8);not null;default:'usd'"`
	Credits         int       `json:"credits"           gorm:"not null;default:0"`
	Status          string    `json:"status"            gorm:"type:varchar(16);not null;check:status IN ('pending','paid','failed')"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// Generation kinds and statuses.
const (
	KindGenerate         = "generate"
	KindUpscale          = "upscale"
	KindRemoveBackground = "remove_background"

	GenerationPending   = "pending"
	GenerationSucceeded = "succeeded"
	GenerationFailed    = "failed"
)

// Generation is one image produced (or attempted) through the inference
// gateway. Params keeps the request as sent upstream.
type Generation struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID         string         `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_user_generations,priority:1"`
	Kind           string         `json:"kind"            gorm:"type:varchar(32);not null;check:kind IN ('generate','upscale','remove_background')"`
	Prompt         string         `json:"prompt"          gorm:"type:text;not null;default:''"`
	Params         datatypes.JSON `json:"params"          swaggertype:"object"`
	Status         string         `json:"status"          gorm:"type:varchar(16);not null;index;check:status IN ('pending','succeeded','failed')"`
	ImageURL       string         `json:"image_url"       gorm:"type:varchar(2048);not null;default:''"`
	StorageKey     string         `json:"-"               gorm:"type:varchar(1024);not null;default:'';index"`
	CreditsCharged int            `json:"credits_charged" gorm:"not null;default:0"`
	Error          string         `json:"error,omitempty" gorm:"type:text;not null;default:''"`
	PurgedAt       *time.Time     `json:"purged_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_user_generations,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Generation.
func (Generation) TableName() string { return "generations" }

// Blog post statuses.
const (
	PostDraft     = "draft"
	PostPublished = "published"
)

// BlogPost is a marketing article managed through the admin API.
type BlogPost struct {
	ID          string                      `json:"id"                     gorm:"type:char(36);primaryKey"`
	Slug        string                      `json:"slug"                   gorm:"type:varchar(200);not null;uniqueIndex"`
	Title       string                      `json:"title"                  gorm:"type:varchar(255);not null"`
	Excerpt     string                      `json:"excerpt"                gorm:"type:varchar(500);not null;default:''"`
	Body        string                      `json:"body"                   gorm:"type:text;not null"`
	CoverURL    string                      `json:"cover_url"              gorm:"type:varchar(1024);not null;default:''"`
	Tags        datatypes.JSONSlice[string] `json:"tags"                   swaggertype:"array,string"`
	Status      string                      `json:"status"                 gorm:"type:varchar(16);not null;index;check:status IN ('draft','published')"`
	AuthorKeyID string                      `json:"-"                      gorm:"type:char(36);not null;default:''"`
	PublishedAt *time.Time                  `json:"published_at,omitempty" gorm:"index"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	DeletedAt   gorm.DeletedAt              `json:"-"                      gorm:"index"`
}

// TableName returns the database table name for BlogPost.
func (BlogPost) TableName() string { return "blog_posts" }

// Admin API key scopes.
const (
	ScopeBlogRead   = "blog:read"
	ScopeBlogWrite  = "blog:write"
	ScopeBlogDelete = "blog:delete"
)

// AllScopes lists every scope an admin key may carry.
var AllScopes = []string{ScopeBlogRead, ScopeBlogWrite, ScopeBlogDelete}

// AdminAPIKey authorizes the blog CMS. The secret part of the key is only
// stored as a bcrypt hash; Prefix identifies the row.
type AdminAPIKey struct {
	ID         string                      `json:"id"                     gorm:"type:char(36);primaryKey"`
	Name       string                      `json:"name"                   gorm:"type:varchar(120);not null"`
	Prefix     string                      `json:"prefix"                 gorm:"type:varchar(16);not null;uniqueIndex"`
	Hash       string                      `json:"-"                      gorm:"type:varchar(100);not null"`
	Scopes     datatypes.JSONSlice[string] `json:"scopes"                 swaggertype:"array,string"`
	LastUsedAt *time.Time                  `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time                  `json:"revoked_at,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
	UpdatedAt  time.Time                   `json:"updated_at"`
}

// TableName returns the database table name for AdminAPIKey.
func (AdminAPIKey) TableName() string { return "admin_api_keys" }

// HasScope reports whether the key grants scope.
func (k AdminAPIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

// Active reports whether the key has not been revoked.
func (k AdminAPIKey) Active() bool { return k.RevokedAt == nil }

// AllModels lists every persistent model in migration order.
func AllModels() []any {
	return []any{
		&Profile{},
		&CreditBalance{},
		&CreditTransaction{},
		&Subscription{},
		&Payment{},
		&Generation{},
		&BlogPost{},
		&AdminAPIKey{},
		&Idempotency{},
	}
}
