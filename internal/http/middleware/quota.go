package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rahu7v3rma/soreal-sub001/internal/quota"
)

// GenerationQuota bounds how many generation requests a user may start per
// quota window. It runs after RequireUser. Replays flagged by
// IdempotencyValidator are not counted. When the counter backend fails the
// request is let through and the failure logged.
func GenerationQuota(counter quota.Counter) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if counter == nil || uid == "" || IsReplay(c) {
			c.Next()
			return
		}
		allowed, remaining, err := counter.Allow(c.Request.Context(), "gen:"+uid)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("generation quota unavailable")
			c.Next()
			return
		}
		c.Header("X-Quota-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", "60")
			abort(c, http.StatusTooManyRequests, "rate_limited", "generation quota exceeded")
			return
		}
		c.Next()
	}
}
