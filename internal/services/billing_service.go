package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/events"
	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
	"github.com/rahu7v3rma/soreal-sub001/internal/payments"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
)

const sessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// Checkout is what the client needs to redirect to the hosted page.
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Settlement reports the outcome of a verified checkout.
type Settlement struct {
	Payment      *domain.Payment      `json:"payment"`
	Credits      int                  `json:"credits"`
	Granted      bool                 `json:"granted"`
	Subscription *domain.Subscription `json:"subscription,omitempty"`
}

// BillingService sells credit topups and monthly plans. Credits are granted
// from whichever path sees the paid session first: the success-URL verify
// call or the provider webhook. Both go through the same pending→paid
// transition, so each payment is settled once.
type BillingService struct {
	DB      *gorm.DB
	Gateway payments.Gateway
	Catalog domain.Catalog
	Users   *UserService
	Events  events.Publisher

	SuccessURL string
	CancelURL  string
}

// Plans returns the catalog.
func (s *BillingService) Plans() domain.Catalog { return s.Catalog }

// CheckoutTopup opens a one-off payment session for a credit package.
func (s *BillingService) CheckoutTopup(ctx context.Context, userID, email, packageID string) (*Checkout, error) {
	prod, ok := s.Catalog.Topup(strings.TrimSpace(packageID))
	if !ok {
		return nil, ErrUnknownProduct
	}
	return s.checkout(ctx, userID, email, payments.ModePayment, domain.PaymentKindTopup, prod)
}

// CheckoutSubscription opens a subscription session for a plan. A user can
// hold one active subscription at a time.
func (s *BillingService) CheckoutSubscription(ctx context.Context, userID, email, planID string) (*Checkout, error) {
	prod, ok := s.Catalog.Plan(strings.TrimSpace(planID))
	if !ok {
		return nil, ErrUnknownProduct
	}
	if _, err := repo.GetActiveSubscription(ctx, s.DB, userID); err == nil {
		return nil, ErrAlreadySubscribed
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return s.checkout(ctx, userID, email, payments.ModeSubscription, domain.PaymentKindSubscription, prod)
}

func (s *BillingService) checkout(ctx context.Context, userID, email, mode, kind string, prod domain.Product) (*Checkout, error) {
	if s.Gateway == nil {
		return nil, ErrPaymentsUnavailable
	}
	ctx, span := observability.Tracer("services/BillingService").Start(ctx, "Checkout",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("product.id", prod.ID),
			attribute.String("checkout.mode", mode),
		))
	defer span.End()

	prof, err := s.Users.Ensure(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	sess, err := s.Gateway.CreateCheckout(ctx, payments.CheckoutRequest{
		Mode:          mode,
		PriceID:       prod.StripePriceID,
		UserID:        userID,
		ProductID:     prod.ID,
		CustomerID:    prof.StripeCustomerID,
		CustomerEmail: prof.Email,
		SuccessURL:    withSessionPlaceholder(s.SuccessURL),
		CancelURL:     s.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	err = repo.CreatePayment(ctx, s.DB, &domain.Payment{
		UserID:          userID,
		Kind:            kind,
		ProductID:       prod.ID,
		StripeSessionID: sess.ID,
		AmountCents:     prod.AmountCents,
		Currency:        prod.Currency,
		Credits:         prod.Credits,
	})
	if err != nil {
		return nil, err
	}
	observability.Checkouts.WithLabelValues(kind, "created").Inc()
	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// VerifyTopup settles a topup session after the success redirect.
func (s *BillingService) VerifyTopup(ctx context.Context, userID, sessionID string) (*Settlement, error) {
	pay, sess, err := s.verifiedSession(ctx, userID, sessionID, domain.PaymentKindTopup)
	if err != nil {
		return nil, err
	}
	return s.settleTopup(ctx, pay, sess)
}

// VerifySubscription activates a subscription session after the success
// redirect and grants the first month.
func (s *BillingService) VerifySubscription(ctx context.Context, userID, sessionID string) (*Settlement, error) {
	pay, sess, err := s.verifiedSession(ctx, userID, sessionID, domain.PaymentKindSubscription)
	if err != nil {
		return nil, err
	}
	return s.activateSubscription(ctx, pay, sess)
}

// verifiedSession loads the local payment and the provider session and
// checks both belong to userID and the session is paid.
func (s *BillingService) verifiedSession(ctx context.Context, userID, sessionID, kind string) (*domain.Payment, *payments.CheckoutSession, error) {
	if s.Gateway == nil {
		return nil, nil, ErrPaymentsUnavailable
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil, ErrMissingSession
	}
	pay, err := repo.GetPaymentBySession(ctx, s.DB, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if pay.UserID != userID {
		return nil, nil, ErrSessionNotOwned
	}
	if pay.Kind != kind {
		return nil, nil, ErrPaymentNotFound
	}
	sess, err := s.Gateway.GetCheckout(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if sess.ClientReferenceID != "" && sess.ClientReferenceID != userID {
		return nil, nil, ErrSessionNotOwned
	}
	if !sess.Paid() {
		return nil, nil, ErrPaymentIncomplete
	}
	return pay, sess, nil
}

func (s *BillingService) settleTopup(ctx context.Context, pay *domain.Payment, sess *payments.CheckoutSession) (*Settlement, error) {
	granted := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := repo.TransitionPayment(ctx, tx, pay.ID, domain.PaymentPaid)
		if err != nil || !moved {
			return err
		}
		if _, err := repo.GrantCredits(ctx, tx, pay.UserID, pay.Credits, domain.ReasonTopup, pay.ID); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return nil
			}
			return err
		}
		granted = true
		if sess.CustomerID != "" {
			return repo.SetStripeCustomerID(ctx, tx, pay.UserID, sess.CustomerID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if granted {
		s.recordSettled(ctx, pay, domain.ReasonTopup, pay.Credits)
	}
	pay.Status = domain.PaymentPaid
	bal, err := repo.GetBalance(ctx, s.DB, pay.UserID)
	if err != nil {
		return nil, err
	}
	return &Settlement{Payment: pay, Credits: bal, Granted: granted}, nil
}

func (s *BillingService) activateSubscription(ctx context.Context, pay *domain.Payment, sess *payments.CheckoutSession) (*Settlement, error) {
	if sess.SubscriptionID == "" {
		return nil, ErrPaymentIncomplete
	}
	psub, err := s.Gateway.GetSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	planID, credits, err := s.planCredits(ctx, psub.PriceID, pay.ProductID)
	if err != nil {
		return nil, err
	}

	row := &domain.Subscription{
		UserID:               pay.UserID,
		PlanID:               planID,
		StripeSubscriptionID: psub.ID,
		StripeCustomerID:     firstNonEmpty(psub.CustomerID, sess.CustomerID),
		Status:               subscriptionStatus(psub.Status),
		MonthlyCredits:       credits,
	}
	if !psub.CurrentPeriodEnd.IsZero() {
		end := psub.CurrentPeriodEnd.UTC()
		row.CurrentPeriodEnd = &end
	}

	var stored *domain.Subscription
	granted, superseded := false, false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.TransitionPayment(ctx, tx, pay.ID, domain.PaymentPaid); err != nil {
			return err
		}
		// A second paid plan never activates: it is stored canceled and
		// canceled at the provider once the transaction commits.
		if row.Status == domain.SubscriptionActive {
			cur, err := repo.GetActiveSubscription(ctx, tx, pay.UserID)
			switch {
			case err == nil && cur.StripeSubscriptionID != row.StripeSubscriptionID:
				superseded = true
				now := time.Now().UTC()
				row.Status = domain.SubscriptionCanceled
				row.CanceledAt = &now
			case err != nil && !errors.Is(err, repo.ErrNotFound):
				return err
			}
		}
		var err error
		if stored, err = repo.UpsertSubscription(ctx, tx, row); err != nil {
			return err
		}
		if row.StripeCustomerID != "" {
			if err := repo.SetStripeCustomerID(ctx, tx, pay.UserID, row.StripeCustomerID); err != nil {
				return err
			}
		}
		if stored.Status != domain.SubscriptionActive || credits <= 0 {
			return nil
		}
		if _, err := repo.GrantCredits(ctx, tx, pay.UserID, credits, domain.ReasonSubscription, psub.ID); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return nil
			}
			return err
		}
		granted = true
		now := time.Now().UTC()
		stored.LastRefilledAt = &now
		return repo.MarkRefilled(ctx, tx, stored.ID, now)
	})
	if err != nil {
		// repo.ErrDuplicate here means a concurrent activation won; the
		// retry takes the superseded path.
		return nil, err
	}
	if superseded {
		log.Ctx(ctx).Warn().
			Str("user_id", pay.UserID).
			Str("payment_id", pay.ID).
			Str("subscription_id", psub.ID).
			Msg("second subscription paid while another is active; canceling it")
		if err := s.Gateway.CancelSubscription(ctx, psub.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return nil, ErrAlreadySubscribed
	}
	if granted {
		s.recordSettled(ctx, pay, domain.ReasonSubscription, credits)
	}
	pay.Status = domain.PaymentPaid
	bal, err := repo.GetBalance(ctx, s.DB, pay.UserID)
	if err != nil {
		return nil, err
	}
	return &Settlement{Payment: pay, Credits: bal, Granted: granted, Subscription: stored}, nil
}

// planCredits resolves the monthly credits of a price: the price metadata
// "credits" wins, then the catalog plan by price id, then the plan the
// checkout was opened for.
func (s *BillingService) planCredits(ctx context.Context, priceID, fallbackPlan string) (string, int, error) {
	planID := fallbackPlan
	if p, ok := s.Catalog.PlanByPrice(priceID); ok {
		planID = p.ID
	}
	if priceID != "" {
		price, err := s.Gateway.GetPrice(ctx, priceID)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if n, err := strconv.Atoi(strings.TrimSpace(price.Metadata["credits"])); err == nil && n > 0 {
			return planID, n, nil
		}
	}
	if p, ok := s.Catalog.PlanByPrice(priceID); ok {
		return p.ID, p.Credits, nil
	}
	if p, ok := s.Catalog.Plan(fallbackPlan); ok {
		return p.ID, p.Credits, nil
	}
	return "", 0, ErrUnknownProduct
}

// Cancel cancels the caller's active subscription at the provider and
// locally. Credits already granted are kept.
func (s *BillingService) Cancel(ctx context.Context, userID string) (*domain.Subscription, error) {
	if s.Gateway == nil {
		return nil, ErrPaymentsUnavailable
	}
	sub, err := repo.GetActiveSubscription(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	if err := s.Gateway.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if err := repo.SetSubscriptionStatus(ctx, s.DB, sub.StripeSubscriptionID, domain.SubscriptionCanceled); err != nil {
		return nil, err
	}
	return repo.GetSubscriptionByStripeID(ctx, s.DB, sub.StripeSubscriptionID)
}

// HandleWebhook verifies and applies a provider event. Events about unknown
// sessions or subscriptions are acknowledged and ignored so the provider
// stops retrying them.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.Gateway == nil {
		return ErrPaymentsUnavailable
	}
	ev, err := s.Gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return ErrInvalidWebhook
		}
		return err
	}
	logger := log.Ctx(ctx).With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	switch ev.Type {
	case payments.EventCheckoutCompleted:
		if ev.Session == nil || !ev.Session.Paid() {
			return nil
		}
		pay, err := repo.GetPaymentBySession(ctx, s.DB, ev.Session.ID)
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn().Str("session_id", ev.Session.ID).Msg("webhook for unknown checkout session")
			return nil
		}
		if err != nil {
			return err
		}
		if pay.Kind == domain.PaymentKindSubscription {
			_, err = s.activateSubscription(ctx, pay, ev.Session)
			if errors.Is(err, ErrAlreadySubscribed) {
				return nil
			}
		} else {
			_, err = s.settleTopup(ctx, pay, ev.Session)
		}
		return err

	case payments.EventSubscriptionUpdated, payments.EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return nil
		}
		status := subscriptionStatus(ev.Subscription.Status)
		if ev.Type == payments.EventSubscriptionDeleted {
			status = domain.SubscriptionCanceled
		}
		existing, err := repo.GetSubscriptionByStripeID(ctx, s.DB, ev.Subscription.ID)
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn().Str("subscription_id", ev.Subscription.ID).Msg("webhook for unknown subscription")
			return nil
		}
		if err != nil {
			return err
		}
		existing.Status = status
		if !ev.Subscription.CurrentPeriodEnd.IsZero() {
			end := ev.Subscription.CurrentPeriodEnd.UTC()
			existing.CurrentPeriodEnd = &end
		}
		_, err = repo.UpsertSubscription(ctx, s.DB, existing)
		if errors.Is(err, repo.ErrDuplicate) {
			logger.Warn().Str("subscription_id", existing.StripeSubscriptionID).Msg("not reactivating subscription: user has another active one")
			return nil
		}
		return err

	case payments.EventInvoicePaid:
		// Renewals only refresh the period; the refill job grants credits.
		if ev.InvoiceSubscriptionID == "" {
			return nil
		}
		existing, err := repo.GetSubscriptionByStripeID(ctx, s.DB, ev.InvoiceSubscriptionID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		psub, err := s.Gateway.GetSubscription(ctx, ev.InvoiceSubscriptionID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		existing.Status = subscriptionStatus(psub.Status)
		if !psub.CurrentPeriodEnd.IsZero() {
			end := psub.CurrentPeriodEnd.UTC()
			existing.CurrentPeriodEnd = &end
		}
		_, err = repo.UpsertSubscription(ctx, s.DB, existing)
		return err

	default:
		logger.Debug().Msg("webhook event ignored")
		return nil
	}
}

func (s *BillingService) recordSettled(ctx context.Context, pay *domain.Payment, reason string, credits int) {
	observability.Checkouts.WithLabelValues(pay.Kind, "settled").Inc()
	observability.CreditsGranted.WithLabelValues(reason).Add(float64(credits))
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, events.Event{
		Type:       events.TypePaymentSettled,
		UserID:     pay.UserID,
		ResourceID: pay.ID,
		Data: map[string]any{
			"kind":         pay.Kind,
			"product_id":   pay.ProductID,
			"amount_cents": pay.AmountCents,
			"currency":     pay.Currency,
			"credits":      credits,
		},
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("payment_id", pay.ID).Msg("publish payment event")
	}
}

// subscriptionStatus folds provider statuses into the four stored ones.
func subscriptionStatus(s string) string {
	switch s {
	case "active", "trialing":
		return domain.SubscriptionActive
	case "past_due":
		return domain.SubscriptionPastDue
	case "canceled", "unpaid", "incomplete_expired":
		return domain.SubscriptionCanceled
	default:
		return domain.SubscriptionIncomplete
	}
}

func withSessionPlaceholder(u string) string {
	if u == "" || strings.Contains(u, sessionPlaceholder) {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "session_id=" + sessionPlaceholder
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
