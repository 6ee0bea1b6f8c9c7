package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Health
// @Produce     json
// @Success     200  {object}  map[string]string
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @ID          ready
// @Summary     Readiness probe
// @Description Checks that the database answers within two seconds.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  map[string]string
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /ready [get]
func (h *Handlers) Ready(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "database unavailable")
			return
		}
	}
	ok(c, http.StatusOK, gin.H{"status": "ready"})
}
