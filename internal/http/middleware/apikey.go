package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

// HeaderAPIKey carries an admin API key. A bearer token starting with "sk_"
// is accepted too.
const HeaderAPIKey = "X-API-Key"

const ctxKeyAPIKey = "apiKey"

// KeyVerifier resolves a raw admin key to its active record.
type KeyVerifier interface {
	Verify(ctx context.Context, raw string) (*domain.AdminAPIKey, error)
}

// RequireAPIKey authenticates an admin key and stores it in the context.
// The rejected predicate tells credential failures (401) from lookup
// failures (500); nil treats every error as a credential failure.
func RequireAPIKey(v KeyVerifier, rejected func(error) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if raw == "" {
			if tok, ok := bearerToken(c.GetHeader("Authorization")); ok && strings.HasPrefix(tok, "sk_") {
				raw = tok
			}
		}
		if raw == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing API key")
			return
		}

		k, err := v.Verify(c.Request.Context(), raw)
		if err != nil {
			if rejected == nil || rejected(err) {
				abort(c, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}
			LoggerFrom(c).Error().Err(err).Msg("verify api key")
			abort(c, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		c.Set(ctxKeyAPIKey, k)
		withLogger(c, LoggerFrom(c).With().Str("key_prefix", k.Prefix).Logger())
		c.Next()
	}
}

// RequireScope rejects requests whose admin key lacks scope with 403. It
// must run after RequireAPIKey.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := APIKeyFrom(c)
		if k == nil {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing API key")
			return
		}
		if !k.HasScope(scope) {
			abort(c, http.StatusForbidden, "forbidden", "API key lacks scope "+scope)
			return
		}
		c.Next()
	}
}

// APIKeyFrom returns the authenticated admin key, or nil.
func APIKeyFrom(c *gin.Context) *domain.AdminAPIKey {
	v, _ := c.Get(ctxKeyAPIKey)
	k, _ := v.(*domain.AdminAPIKey)
	return k
}
