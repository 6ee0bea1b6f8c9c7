package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/http/middleware"
)

// UpdateUserRequest is the JSON payload of PATCH /user. Omitted fields are
// left unchanged; an empty string clears the field.
type UpdateUserRequest struct {
	DisplayName *string `json:"display_name" example:"Ada"`
	AvatarURL   *string `json:"avatar_url" example:"https://cdn.example.com/a.png"`
}

// ListGenerationsResponse wraps a page of generations.
type ListGenerationsResponse struct {
	Generations []domain.Generation `json:"generations"`
	Pagination  Pagination          `json:"pagination"`
}

// CreditHistoryResponse wraps a page of ledger entries.
type CreditHistoryResponse struct {
	Transactions []domain.CreditTransaction `json:"transactions"`
	Pagination   Pagination                 `json:"pagination"`
}

// GetUser godoc
// @ID          getUser
// @Summary     Current account
// @Description Returns the profile, credit balance and active subscription. The profile and signup credits are created on first access.
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.Account
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /user [get]
func (h *Handlers) GetUser(c *gin.Context) {
	acct, err := h.users.Get(c.Request.Context(), middleware.UserID(c), middleware.UserEmail(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, acct)
}

// UpdateUser godoc
// @ID          updateUser
// @Summary     Update profile
// @Tags        User
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.UpdateUserRequest  true  "Fields to change"
// @Success     200   {object}  domain.Profile
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     401   {object}  handlers.ErrorResponse
// @Router      /user [patch]
func (h *Handlers) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.users.Update(c.Request.Context(), middleware.UserID(c), middleware.UserEmail(c), req.DisplayName, req.AvatarURL)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeleteUser godoc
// @ID          deleteUser
// @Summary     Delete account
// @Description Cancels any active subscription, deletes the user in the identity platform, then deletes local data.
// @Tags        User
// @Security    BearerAuth
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse
// @Router      /user [delete]
func (h *Handlers) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), middleware.UserID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListGenerations godoc
// @ID          listGenerations
// @Summary     Generation history (paginated)
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListGenerationsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /user/generations [get]
func (h *Handlers) ListGenerations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	page, pageSize := clampPagination(c)

	if count, maxTS, err := h.users.GenerationStats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"gens:%s:%d:%d:%d:%d"`, uid, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.users.Generations(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListGenerationsResponse{Generations: items, Pagination: newPagination(page, pageSize, total)})
}

// GetGeneration godoc
// @ID          getGeneration
// @Summary     One generation
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Generation ID"  format(uuid)
// @Success     200  {object}  domain.Generation
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /user/generations/{id} [get]
func (h *Handlers) GetGeneration(c *gin.Context) {
	g, err := h.gens.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, g)
}

// CreditHistory godoc
// @ID          creditHistory
// @Summary     Credit ledger (paginated)
// @Tags        User
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.CreditHistoryResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /user/credits/history [get]
func (h *Handlers) CreditHistory(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.users.CreditHistory(c.Request.Context(), middleware.UserID(c), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CreditHistoryResponse{Transactions: items, Pagination: newPagination(page, pageSize, total)})
}
