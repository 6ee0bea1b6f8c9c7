// Package payments wraps the payments provider behind a small Gateway
// interface. Services depend on the interface; the Stripe implementation
// lives in stripe.go.
package payments

import (
	"context"
	"errors"
	"time"
)

// Checkout modes.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// Webhook event types handled by the billing service.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
)

// ErrNotConfigured is returned when no provider key is set.
var ErrNotConfigured = errors.New("payments: provider not configured")

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// CheckoutRequest describes a hosted checkout page to create.
type CheckoutRequest struct {
	Mode          string
	PriceID       string
	UserID        string
	ProductID     string
	CustomerID    string // reuse when known
	CustomerEmail string // prefill otherwise
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is the provider-neutral view of a checkout session.
type CheckoutSession struct {
	ID                string
	URL               string
	Mode              string
	Status            string // open|complete|expired
	PaymentStatus     string // paid|unpaid|no_payment_required
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
	AmountTotal       int64
	Currency          string
	Metadata          map[string]string
}

// Paid reports whether the session completed with a settled payment.
func (s CheckoutSession) Paid() bool {
	return s.Status == "complete" && (s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required")
}

// Subscription is the provider-neutral view of a recurring subscription.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	CurrentPeriodEnd time.Time
	Metadata         map[string]string
}

// Price is a catalog price with its metadata.
type Price struct {
	ID       string
	Amount   int64
	Currency string
	Metadata map[string]string
}

// Event is a verified webhook event. Exactly one of the payload pointers is
// set, depending on Type.
type Event struct {
	ID           string
	Type         string
	Session      *CheckoutSession
	Subscription *Subscription
	// InvoiceSubscriptionID is set for invoice events.
	InvoiceSubscriptionID string
	InvoiceID             string
}

// Gateway is the subset of the payments provider the billing service uses.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckout(ctx context.Context, sessionID string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetPrice(ctx context.Context, priceID string) (*Price, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
