// Package handlers defines HTTP-layer error codes used across all API
// endpoints and the mapping from service errors to statuses.
//
// Clients branch on the code; the message is safe to display. Example:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "insufficient_credits",
//	  "message": "insufficient credits"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/rahu7v3rma/soreal-sub001/internal/services"
)

const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternal           = "internal_error"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
	ErrCodeUpstream           = "upstream_error"
	ErrCodeUnavailable        = "service_unavailable"
	ErrCodeInsufficientCredit = "insufficient_credits"
)

type errMapping struct {
	err    error
	status int
	code   string
}

// errTable maps service sentinels to responses. The first match wins.
var errTable = []errMapping{
	{services.ErrEmptyPrompt, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrPromptTooLong, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidImageURL, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidParams, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidProfile, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidPost, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidScopes, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrMissingSession, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrPaymentIncomplete, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidWebhook, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrUnknownProduct, http.StatusBadRequest, ErrCodeBadRequest},

	{services.ErrInvalidAPIKey, http.StatusUnauthorized, ErrCodeUnauthorized},
	{services.ErrAccountDeleted, http.StatusUnauthorized, ErrCodeUnauthorized},
	{services.ErrInsufficientCredits, http.StatusForbidden, ErrCodeInsufficientCredit},
	{services.ErrSessionNotOwned, http.StatusForbidden, ErrCodeForbidden},

	{services.ErrProfileNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrGenerationNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrPaymentNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrNoActiveSubscription, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrPostNotFound, http.StatusNotFound, ErrCodeNotFound},

	{services.ErrAlreadySubscribed, http.StatusConflict, ErrCodeConflict},
	{services.ErrSlugTaken, http.StatusConflict, ErrCodeConflict},
	{services.ErrRequestInFlight, http.StatusConflict, ErrCodeConflict},

	{services.ErrUpstream, http.StatusBadGateway, ErrCodeUpstream},
	{services.ErrPaymentsUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// classify returns the status, code and client message for err. Messages of
// 4xx errors carry the validation detail; 5xx messages are generic so
// provider errors never leak to clients.
func classify(err error) (status int, code, msg string) {
	for _, m := range errTable {
		if !errors.Is(err, m.err) {
			continue
		}
		if m.status >= http.StatusInternalServerError {
			return m.status, m.code, m.err.Error()
		}
		return m.status, m.code, err.Error()
	}
	return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
}
