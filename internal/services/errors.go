// Package services holds the business logic behind the HTTP API: accounts and
// credits, billing, image jobs, prompt enhancement, the blog CMS and admin
// API keys.
//
// Services return the sentinel errors below for predictable outcomes; the
// handler layer maps them to HTTP status codes.
package services

import "errors"

// Validation errors (400).
var (
	ErrEmptyPrompt       = errors.New("prompt is empty")
	ErrPromptTooLong     = errors.New("prompt too long")
	ErrInvalidImageURL   = errors.New("image_url must be an absolute http(s) URL")
	ErrInvalidParams     = errors.New("invalid generation parameters")
	ErrInvalidProfile    = errors.New("invalid profile fields")
	ErrInvalidPost       = errors.New("invalid blog post")
	ErrInvalidScopes     = errors.New("invalid api key scopes")
	ErrMissingSession    = errors.New("session_id is required")
	ErrPaymentIncomplete = errors.New("checkout session is not paid")
	ErrInvalidWebhook    = errors.New("invalid webhook payload")
)

// Authorization errors (401/403).
var (
	// ErrInvalidAPIKey covers unknown, malformed and revoked admin keys.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrInsufficientCredits is returned when the balance cannot cover a job.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAccountDeleted is returned for tokens whose account was deleted.
	ErrAccountDeleted = errors.New("account has been deleted")

	// ErrSessionNotOwned is returned when a checkout session belongs to
	// another user.
	ErrSessionNotOwned = errors.New("checkout session belongs to another user")
)

// Lookup and state errors (404/409).
var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrGenerationNotFound   = errors.New("generation not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrUnknownProduct       = errors.New("unknown package or plan")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrPostNotFound         = errors.New("blog post not found")

	ErrAlreadySubscribed = errors.New("an active subscription already exists")
	ErrSlugTaken         = errors.New("slug already in use")
	ErrRequestInFlight   = errors.New("a request with this idempotency key is in progress")
)

// Dependency errors (502/503).
var (
	// ErrUpstream wraps failures of the inference gateway, storage, payments
	// provider, LLM or identity platform.
	ErrUpstream = errors.New("upstream service failed")

	// ErrPaymentsUnavailable is returned when no payments provider is configured.
	ErrPaymentsUnavailable = errors.New("payments are not configured")
)
