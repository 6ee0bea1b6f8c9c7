package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxKeyUserID    = "userID"
	ctxKeyUserEmail = "userEmail"
)

// AuthOptions configures RequireUser. Tokens are HS256 access tokens issued
// by the hosted auth platform; the subject claim is the user id.
type AuthOptions struct {
	Secret   []byte
	Issuer   string // checked when set
	Audience string // checked when set
	Leeway   time.Duration
}

type userClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// RequireUser authenticates the bearer token and stores the user id and
// email in the context. The request-scoped logger gains a user_id field.
// Missing or invalid tokens get 401.
func RequireUser(opts AuthOptions) gin.HandlerFunc {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	parser := jwt.NewParser(parserOpts...)
	keyFn := func(*jwt.Token) (any, error) { return opts.Secret, nil }

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		var claims userClaims
		if _, err := parser.ParseWithClaims(raw, &claims, keyFn); err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("rejected access token")
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "token has no subject")
			return
		}

		c.Set(ctxKeyUserID, claims.Subject)
		c.Set(ctxKeyUserEmail, strings.TrimSpace(claims.Email))
		withLogger(c, LoggerFrom(c).With().Str("user_id", claims.Subject).Logger())
		c.Next()
	}
}

// UserID returns the authenticated user id, or "".
func UserID(c *gin.Context) string {
	v, _ := c.Get(ctxKeyUserID)
	return asString(v)
}

// UserEmail returns the email claim of the authenticated user, or "".
func UserEmail(c *gin.Context) string {
	v, _ := c.Get(ctxKeyUserEmail)
	return asString(v)
}

func bearerToken(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}
