package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/identity"
	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
	"github.com/rahu7v3rma/soreal-sub001/internal/payments"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
)

const (
	maxDisplayNameRunes = 120
	maxAvatarURLLen     = 1024
	defaultPageSize     = 20
)

// Account is the caller's profile with balance and active plan.
type Account struct {
	Profile      *domain.Profile      `json:"profile"`
	Credits      int                  `json:"credits"`
	Subscription *domain.Subscription `json:"subscription,omitempty"`
}

// UserService manages profiles, balances and account deletion.
type UserService struct {
	DB       *gorm.DB
	Identity identity.Admin
	// Payments may be nil when billing is not configured.
	Payments payments.Gateway

	// SignupGrant is credited once, when the profile is first created.
	SignupGrant int
}

// Ensure creates the profile and the signup grant on first sight of a user.
// Both writes share a transaction, and the grant is keyed by the user id so a
// retry never credits twice. Deleted accounts get ErrAccountDeleted.
func (s *UserService) Ensure(ctx context.Context, userID, email string) (*domain.Profile, error) {
	var prof *domain.Profile
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, created, err := repo.EnsureProfile(ctx, tx, userID, email)
		if err != nil {
			return err
		}
		prof = p
		if !created || s.SignupGrant <= 0 {
			return nil
		}
		if _, err := repo.GrantCredits(ctx, tx, userID, s.SignupGrant, domain.ReasonSignup, userID); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return nil
			}
			return err
		}
		observability.CreditsGranted.WithLabelValues(domain.ReasonSignup).Add(float64(s.SignupGrant))
		return nil
	})
	if errors.Is(err, repo.ErrDeleted) {
		return nil, ErrAccountDeleted
	}
	if err != nil {
		return nil, err
	}
	return prof, nil
}

// Get returns the caller's account, creating it on first access.
func (s *UserService) Get(ctx context.Context, userID, email string) (*Account, error) {
	ctx, span := observability.Tracer("services/UserService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	prof, err := s.Ensure(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	bal, err := repo.GetBalance(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	acc := &Account{Profile: prof, Credits: bal}
	sub, err := repo.GetActiveSubscription(ctx, s.DB, userID)
	switch {
	case err == nil:
		acc.Subscription = sub
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}
	return acc, nil
}

// Update changes the display name and/or avatar URL. Nil fields are kept.
func (s *UserService) Update(ctx context.Context, userID, email string, displayName, avatarURL *string) (*domain.Profile, error) {
	if displayName != nil {
		v := strings.Join(strings.Fields(*displayName), " ")
		if utf8.RuneCountInString(v) > maxDisplayNameRunes {
			return nil, fmt.Errorf("%w: display_name exceeds %d characters", ErrInvalidProfile, maxDisplayNameRunes)
		}
		displayName = &v
	}
	if avatarURL != nil {
		v := strings.TrimSpace(*avatarURL)
		if v != "" && (len(v) > maxAvatarURLLen || !isHTTPURL(v)) {
			return nil, fmt.Errorf("%w: avatar_url must be an http(s) URL", ErrInvalidProfile)
		}
		avatarURL = &v
	}
	if displayName == nil && avatarURL == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidProfile)
	}
	if _, err := s.Ensure(ctx, userID, email); err != nil {
		return nil, err
	}
	p, err := repo.UpdateProfile(ctx, s.DB, userID, displayName, avatarURL)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// Delete removes the account: the active subscription is canceled at the
// provider, the auth user is deleted, then every local row goes.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	ctx, span := observability.Tracer("services/UserService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	sub, err := repo.GetActiveSubscription(ctx, s.DB, userID)
	switch {
	case err == nil:
		if s.Payments == nil {
			return ErrPaymentsUnavailable
		}
		if err := s.Payments.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
			return fmt.Errorf("%w: cancel subscription: %v", ErrUpstream, err)
		}
		// Recorded now so a retry after a later failure does not cancel twice.
		if err := repo.SetSubscriptionStatus(ctx, s.DB, sub.StripeSubscriptionID, domain.SubscriptionCanceled); err != nil {
			return err
		}
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}

	if s.Identity != nil {
		if err := s.Identity.DeleteUser(ctx, userID); err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}

	if err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return repo.DeleteUserData(ctx, tx, userID)
	}); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("user_id", userID).Msg("account deleted")
	return nil
}

// Generations returns a page of the caller's image jobs, newest first.
func (s *UserService) Generations(ctx context.Context, userID string, page, pageSize int) ([]domain.Generation, int64, error) {
	offset, limit := pageBounds(page, pageSize)
	total, err := repo.CountGenerations(ctx, s.DB, userID)
	if err != nil || total == 0 {
		return []domain.Generation{}, total, err
	}
	items, err := repo.ListGenerationsPage(ctx, s.DB, userID, offset, limit)
	return items, total, err
}

// GenerationStats returns the count and last update of the caller's
// generations, for conditional GETs.
func (s *UserService) GenerationStats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.GenerationsStats(ctx, s.DB, userID)
}

// CreditHistory returns a page of the caller's ledger, newest first.
func (s *UserService) CreditHistory(ctx context.Context, userID string, page, pageSize int) ([]domain.CreditTransaction, int64, error) {
	offset, limit := pageBounds(page, pageSize)
	total, err := repo.CountTransactions(ctx, s.DB, userID)
	if err != nil || total == 0 {
		return []domain.CreditTransaction{}, total, err
	}
	items, err := repo.ListTransactionsPage(ctx, s.DB, userID, offset, limit)
	return items, total, err
}

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return (page - 1) * pageSize, pageSize
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
