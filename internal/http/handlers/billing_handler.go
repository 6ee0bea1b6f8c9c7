package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rahu7v3rma/soreal-sub001/internal/http/middleware"
)

// TopupCheckoutRequest selects a credit package.
type TopupCheckoutRequest struct {
	PackageID string `json:"package_id" binding:"required" example:"topup_100"`
}

// SubscriptionCheckoutRequest selects a monthly plan.
type SubscriptionCheckoutRequest struct {
	PlanID string `json:"plan_id" binding:"required" example:"basic"`
}

// ListPlans godoc
// @ID          listPlans
// @Summary     Topup packages and subscription plans
// @Tags        Billing
// @Produce     json
// @Success     200  {object}  domain.Catalog
// @Router      /billing/plans [get]
func (h *Handlers) ListPlans(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	ok(c, http.StatusOK, h.billing.Plans())
}

// TopupCheckout godoc
// @ID          topupCheckout
// @Summary     Start a credit topup checkout
// @Description Creates a checkout session and records a pending payment. Redirect the browser to url.
// @Tags        Billing
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.TopupCheckoutRequest  true  "Package"
// @Success     201   {object}  services.Checkout
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     502   {object}  handlers.ErrorResponse
// @Failure     503   {object}  handlers.ErrorResponse
// @Router      /billing/topup/checkout [post]
func (h *Handlers) TopupCheckout(c *gin.Context) {
	var req TopupCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "package_id is required")
		return
	}
	co, err := h.billing.CheckoutTopup(c.Request.Context(), middleware.UserID(c), middleware.UserEmail(c), strings.TrimSpace(req.PackageID))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, co)
}

// TopupVerify godoc
// @ID          topupVerify
// @Summary     Verify a topup checkout
// @Description Called from the success page. Grants the credits once when the session is paid and belongs to the caller.
// @Tags        Billing
// @Produce     json
// @Security    BearerAuth
// @Param       session_id  query     string  true  "Checkout session id"
// @Success     200         {object}  services.Settlement
// @Failure     400         {object}  handlers.ErrorResponse
// @Failure     403         {object}  handlers.ErrorResponse
// @Failure     404         {object}  handlers.ErrorResponse
// @Router      /billing/topup/verify [get]
func (h *Handlers) TopupVerify(c *gin.Context) {
	st, err := h.billing.VerifyTopup(c.Request.Context(), middleware.UserID(c), strings.TrimSpace(c.Query("session_id")))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// SubscriptionCheckout godoc
// @ID          subscriptionCheckout
// @Summary     Start a subscription checkout
// @Tags        Billing
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.SubscriptionCheckoutRequest  true  "Plan"
// @Success     201   {object}  services.Checkout
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "Already subscribed"
// @Router      /billing/subscription/checkout [post]
func (h *Handlers) SubscriptionCheckout(c *gin.Context) {
	var req SubscriptionCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "plan_id is required")
		return
	}
	co, err := h.billing.CheckoutSubscription(c.Request.Context(), middleware.UserID(c), middleware.UserEmail(c), strings.TrimSpace(req.PlanID))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, co)
}

// SubscriptionVerify godoc
// @ID          subscriptionVerify
// @Summary     Verify a subscription checkout
// @Description Activates the subscription and grants the first month of credits once.
// @Tags        Billing
// @Produce     json
// @Security    BearerAuth
// @Param       session_id  query     string  true  "Checkout session id"
// @Success     200         {object}  services.Settlement
// @Failure     400         {object}  handlers.ErrorResponse
// @Failure     403         {object}  handlers.ErrorResponse
// @Router      /billing/subscription/verify [get]
func (h *Handlers) SubscriptionVerify(c *gin.Context) {
	st, err := h.billing.VerifySubscription(c.Request.Context(), middleware.UserID(c), strings.TrimSpace(c.Query("session_id")))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// SubscriptionCancel godoc
// @ID          subscriptionCancel
// @Summary     Cancel the active subscription
// @Tags        Billing
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.Subscription
// @Failure     404  {object}  handlers.ErrorResponse  "No active subscription"
// @Failure     502  {object}  handlers.ErrorResponse
// @Router      /billing/subscription/cancel [post]
func (h *Handlers) SubscriptionCancel(c *gin.Context) {
	sub, err := h.billing.Cancel(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sub)
}

// Webhook godoc
// @ID          billingWebhook
// @Summary     Payments provider webhook
// @Description Signature-verified checkout and subscription events.
// @Tags        Billing
// @Accept      json
// @Produce     json
// @Param       Stripe-Signature  header  string  true  "Webhook signature"
// @Success     200  {object}  map[string]bool
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /billing/webhook [post]
func (h *Handlers) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	if err := h.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"received": true})
}
