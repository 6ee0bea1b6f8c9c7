package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
)

func billingRouter(b *stubBilling) http.Handler {
	r := newEngine()
	h := New(Deps{Billing: b})
	r.GET("/api/billing/plans", h.ListPlans)
	r.POST("/api/billing/webhook", h.Webhook)
	g := r.Group("/api/billing", asUser("u1", "u1@example.com"))
	g.POST("/topup/checkout", h.TopupCheckout)
	g.GET("/topup/verify", h.TopupVerify)
	g.POST("/subscription/checkout", h.SubscriptionCheckout)
	g.GET("/subscription/verify", h.SubscriptionVerify)
	g.POST("/subscription/cancel", h.SubscriptionCancel)
	return r
}

func TestListPlans(t *testing.T) {
	b := &stubBilling{catalog: domain.DefaultCatalog("usd", "price_s", "", "price_b", "")}
	w := doJSON(t, billingRouter(b), http.MethodGet, "/api/billing/plans", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "price_s") {
		t.Fatalf("provider price ids must not be exposed: %s", w.Body.String())
	}
	if cat := decode[domain.Catalog](t, w); len(cat.Topups) != 2 || len(cat.Plans) != 2 {
		t.Fatalf("unexpected catalog %+v", cat)
	}
}

func TestTopupCheckoutAndVerify(t *testing.T) {
	b := &stubBilling{
		topupFn: func(_ context.Context, uid, email, id string) (*services.Checkout, error) {
			if id == "nope" {
				return nil, services.ErrUnknownProduct
			}
			return &services.Checkout{SessionID: "cs_1", URL: "https://pay/cs_1"}, nil
		},
		verifyFn: func(_ context.Context, uid, sid string) (*services.Settlement, error) {
			switch sid {
			case "":
				return nil, services.ErrMissingSession
			case "cs_other":
				return nil, services.ErrSessionNotOwned
			}
			return &services.Settlement{Credits: 100, Granted: true}, nil
		},
	}
	r := billingRouter(b)

	w := doJSON(t, r, http.MethodPost, "/api/billing/topup/checkout", map[string]string{"package_id": " topup_100 "})
	if w.Code != http.StatusCreated || decode[services.Checkout](t, w).SessionID != "cs_1" {
		t.Fatalf("checkout: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, r, http.MethodPost, "/api/billing/topup/checkout", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing package: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/billing/topup/checkout", map[string]string{"package_id": "nope"}); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown package: %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/billing/topup/verify?session_id=cs_1", nil)
	if st := decode[services.Settlement](t, w); w.Code != http.StatusOK || !st.Granted {
		t.Fatalf("verify: %d %+v", w.Code, st)
	}
	if w := doJSON(t, r, http.MethodGet, "/api/billing/topup/verify", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("no session: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/api/billing/topup/verify?session_id=cs_other", nil); w.Code != http.StatusForbidden {
		t.Fatalf("foreign session: %d", w.Code)
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	b := &stubBilling{
		subFn: func(context.Context, string, string, string) (*services.Checkout, error) {
			return nil, services.ErrAlreadySubscribed
		},
		verifySFn: func(context.Context, string, string) (*services.Settlement, error) {
			return &services.Settlement{Credits: 200, Granted: true, Subscription: &domain.Subscription{PlanID: "basic"}}, nil
		},
		cancelFn: func(context.Context, string) (*domain.Subscription, error) {
			return nil, services.ErrNoActiveSubscription
		},
	}
	r := billingRouter(b)

	if w := doJSON(t, r, http.MethodPost, "/api/billing/subscription/checkout", map[string]string{"plan_id": "basic"}); w.Code != http.StatusConflict {
		t.Fatalf("already subscribed: %d", w.Code)
	}
	w := doJSON(t, r, http.MethodGet, "/api/billing/subscription/verify?session_id=cs_2", nil)
	if st := decode[services.Settlement](t, w); w.Code != http.StatusOK || st.Subscription == nil {
		t.Fatalf("verify: %d %+v", w.Code, st)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/billing/subscription/cancel", nil); w.Code != http.StatusNotFound {
		t.Fatalf("cancel without subscription: %d", w.Code)
	}
}

func TestWebhook(t *testing.T) {
	var gotPayload, gotSig string
	b := &stubBilling{hookFn: func(_ context.Context, p []byte, sig string) error {
		gotPayload, gotSig = string(p), sig
		if sig != "t=1,v1=good" {
			return services.ErrInvalidWebhook
		}
		return nil
	}}
	r := billingRouter(b)

	w := doJSON(t, r, http.MethodPost, "/api/billing/webhook", `{"type":"invoice.paid"}`, "Stripe-Signature", "t=1,v1=good")
	if w.Code != http.StatusOK || gotPayload != `{"type":"invoice.paid"}` || gotSig != "t=1,v1=good" {
		t.Fatalf("webhook: %d %q %q", w.Code, gotPayload, gotSig)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/billing/webhook", `{}`, "Stripe-Signature", "bad"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature: %d", w.Code)
	}
}
