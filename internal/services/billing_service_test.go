package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/events"
	"github.com/rahu7v3rma/soreal-sub001/internal/payments"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
)

func newBillingSvc(t *testing.T) (*BillingService, *stubGateway, *stubEvents) {
	t.Helper()
	db := newTestDB(t)
	gw, ev := &stubGateway{}, &stubEvents{}
	return &BillingService{
		DB:         db,
		Gateway:    gw,
		Catalog:    domain.DefaultCatalog("usd", "price_small", "price_large", "price_basic", "price_pro"),
		Users:      &UserService{DB: db},
		Events:     ev,
		SuccessURL: "https://app.example.com/billing/success",
		CancelURL:  "https://app.example.com/billing",
	}, gw, ev
}

func paidSession(id, user string) *payments.CheckoutSession {
	return &payments.CheckoutSession{ID: id, Status: "complete", PaymentStatus: "paid", ClientReferenceID: user, CustomerID: "cus_1"}
}

func TestCheckoutTopup_RecordsPendingPayment(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()

	co, err := s.CheckoutTopup(ctx, "u1", "a@example.com", "topup_100")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if co.SessionID != "cs_topup_100" || co.URL == "" {
		t.Fatalf("unexpected checkout %+v", co)
	}
	if gw.lastCreate.Mode != payments.ModePayment || gw.lastCreate.PriceID != "price_small" || gw.lastCreate.CustomerEmail != "a@example.com" {
		t.Fatalf("unexpected request %+v", gw.lastCreate)
	}
	if !strings.HasSuffix(gw.lastCreate.SuccessURL, "?session_id={CHECKOUT_SESSION_ID}") {
		t.Fatalf("success url missing placeholder: %s", gw.lastCreate.SuccessURL)
	}
	pay, err := repo.GetPaymentBySession(ctx, s.DB, co.SessionID)
	if err != nil || pay.Status != domain.PaymentPending || pay.Credits != 100 || pay.UserID != "u1" {
		t.Fatalf("payment: %v %+v", err, pay)
	}

	if _, err := s.CheckoutTopup(ctx, "u1", "", "nope"); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("want ErrUnknownProduct, got %v", err)
	}
}

func TestCheckout_Errors(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()

	gw.createFn = func(context.Context, payments.CheckoutRequest) (*payments.CheckoutSession, error) { return nil, errBoom }
	if _, err := s.CheckoutTopup(ctx, "u1", "", "topup_500"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}

	s.Gateway = nil
	if _, err := s.CheckoutTopup(ctx, "u1", "", "topup_500"); !errors.Is(err, ErrPaymentsUnavailable) {
		t.Fatalf("want ErrPaymentsUnavailable, got %v", err)
	}
}

func TestVerifyTopup_GrantsExactlyOnce(t *testing.T) {
	s, gw, ev := newBillingSvc(t)
	ctx := context.Background()
	co, err := s.CheckoutTopup(ctx, "u1", "", "topup_100")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	gw.getFn = func(_ context.Context, id string) (*payments.CheckoutSession, error) { return paidSession(id, "u1"), nil }

	st, err := s.VerifyTopup(ctx, "u1", co.SessionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !st.Granted || st.Credits != 100 || st.Payment.Status != domain.PaymentPaid {
		t.Fatalf("unexpected settlement %+v", st)
	}

	st, err = s.VerifyTopup(ctx, "u1", co.SessionID)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if st.Granted || st.Credits != 100 {
		t.Fatalf("second verify granted again: %+v", st)
	}
	prof, _ := repo.GetProfile(ctx, s.DB, "u1")
	if prof.StripeCustomerID != "cus_1" {
		t.Fatalf("customer id not stored: %q", prof.StripeCustomerID)
	}
	if ty := ev.types(); len(ty) != 1 || ty[0] != events.TypePaymentSettled {
		t.Fatalf("events = %v", ty)
	}
}

func TestVerifyTopup_Rejections(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()
	co, _ := s.CheckoutTopup(ctx, "u1", "", "topup_100")

	if _, err := s.VerifyTopup(ctx, "u1", " "); !errors.Is(err, ErrMissingSession) {
		t.Fatalf("want ErrMissingSession, got %v", err)
	}
	if _, err := s.VerifyTopup(ctx, "u1", "cs_unknown"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("want ErrPaymentNotFound, got %v", err)
	}
	if _, err := s.VerifyTopup(ctx, "u2", co.SessionID); !errors.Is(err, ErrSessionNotOwned) {
		t.Fatalf("want ErrSessionNotOwned, got %v", err)
	}
	if _, err := s.VerifySubscription(ctx, "u1", co.SessionID); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("topup session must not verify as subscription: %v", err)
	}

	gw.getFn = func(_ context.Context, id string) (*payments.CheckoutSession, error) {
		return &payments.CheckoutSession{ID: id, Status: "open", PaymentStatus: "unpaid", ClientReferenceID: "u1"}, nil
	}
	if _, err := s.VerifyTopup(ctx, "u1", co.SessionID); !errors.Is(err, ErrPaymentIncomplete) {
		t.Fatalf("want ErrPaymentIncomplete, got %v", err)
	}
	if bal, _ := repo.GetBalance(ctx, s.DB, "u1"); bal != 0 {
		t.Fatalf("unpaid session granted credits: %d", bal)
	}
}

func subscriptionGateway(gw *stubGateway, priceMeta map[string]string) {
	gw.getFn = func(_ context.Context, id string) (*payments.CheckoutSession, error) {
		s := paidSession(id, "u1")
		s.SubscriptionID = "sub_1"
		return s, nil
	}
	gw.getSubFn = func(_ context.Context, id string) (*payments.Subscription, error) {
		return &payments.Subscription{ID: id, CustomerID: "cus_1", Status: "active", PriceID: "price_basic", CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour)}, nil
	}
	gw.getPriceFn = func(_ context.Context, id string) (*payments.Price, error) {
		return &payments.Price{ID: id, Metadata: priceMeta}, nil
	}
}

func TestVerifySubscription_UsesPriceMetadataAndGrantsOnce(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()
	co, err := s.CheckoutSubscription(ctx, "u1", "", "basic")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	subscriptionGateway(gw, map[string]string{"credits": "250"})

	st, err := s.VerifySubscription(ctx, "u1", co.SessionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !st.Granted || st.Credits != 250 || st.Subscription == nil {
		t.Fatalf("unexpected settlement %+v", st)
	}
	sub := st.Subscription
	if sub.Status != domain.SubscriptionActive || sub.MonthlyCredits != 250 || sub.PlanID != "basic" || sub.LastRefilledAt == nil {
		t.Fatalf("unexpected subscription %+v", sub)
	}

	st, err = s.VerifySubscription(ctx, "u1", co.SessionID)
	if err != nil || st.Granted || st.Credits != 250 {
		t.Fatalf("second verify: %v %+v", err, st)
	}

	if _, err := s.CheckoutSubscription(ctx, "u1", "", "pro"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("want ErrAlreadySubscribed, got %v", err)
	}
}

func TestVerifySubscription_FallsBackToCatalog(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()
	co, _ := s.CheckoutSubscription(ctx, "u1", "", "basic")
	subscriptionGateway(gw, nil)

	st, err := s.VerifySubscription(ctx, "u1", co.SessionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if st.Credits != 200 || st.Subscription.MonthlyCredits != 200 {
		t.Fatalf("catalog fallback not applied: %+v", st)
	}
}

func TestVerifySubscription_SecondPaidPlanIsCanceled(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()

	// both checkouts are opened before either one is paid
	basic, err := s.CheckoutSubscription(ctx, "u1", "", "basic")
	if err != nil {
		t.Fatalf("checkout basic: %v", err)
	}
	pro, err := s.CheckoutSubscription(ctx, "u1", "", "pro")
	if err != nil {
		t.Fatalf("checkout pro: %v", err)
	}

	subs := map[string]string{basic.SessionID: "sub_basic", pro.SessionID: "sub_pro"}
	prices := map[string]string{"sub_basic": "price_basic", "sub_pro": "price_pro"}
	gw.getFn = func(_ context.Context, id string) (*payments.CheckoutSession, error) {
		sess := paidSession(id, "u1")
		sess.SubscriptionID = subs[id]
		return sess, nil
	}
	gw.getSubFn = func(_ context.Context, id string) (*payments.Subscription, error) {
		status := "active"
		if slices.Contains(gw.canceled, id) {
			status = "canceled"
		}
		return &payments.Subscription{ID: id, CustomerID: "cus_1", Status: status, PriceID: prices[id]}, nil
	}

	st, err := s.VerifySubscription(ctx, "u1", basic.SessionID)
	if err != nil || !st.Granted || st.Credits != 200 {
		t.Fatalf("verify basic: %v %+v", err, st)
	}

	if _, err := s.VerifySubscription(ctx, "u1", pro.SessionID); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("want ErrAlreadySubscribed, got %v", err)
	}
	if !slices.Equal(gw.canceled, []string{"sub_pro"}) {
		t.Fatalf("provider cancels = %v; want [sub_pro]", gw.canceled)
	}
	if bal, _ := repo.GetBalance(ctx, s.DB, "u1"); bal != 200 {
		t.Fatalf("balance = %d; second plan must not grant", bal)
	}
	var active int64
	s.DB.Model(&domain.Subscription{}).Where("user_id = ? AND status = ?", "u1", domain.SubscriptionActive).Count(&active)
	if active != 1 {
		t.Fatalf("active subscriptions = %d; want 1", active)
	}
	cur, err := repo.GetActiveSubscription(ctx, s.DB, "u1")
	if err != nil || cur.StripeSubscriptionID != "sub_basic" {
		t.Fatalf("active: %v %+v", err, cur)
	}
	if got, _ := repo.GetSubscriptionByStripeID(ctx, s.DB, "sub_pro"); got == nil || got.Status != domain.SubscriptionCanceled {
		t.Fatalf("superseded row: %+v", got)
	}

	// a retry sees the provider cancel and settles quietly
	st, err = s.VerifySubscription(ctx, "u1", pro.SessionID)
	if err != nil || st.Granted || st.Credits != 200 {
		t.Fatalf("retry: %v %+v", err, st)
	}
	if len(gw.canceled) != 1 {
		t.Fatalf("retry canceled again: %v", gw.canceled)
	}
}

func TestCancelSubscription(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()

	if _, err := s.Cancel(ctx, "u1"); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("want ErrNoActiveSubscription, got %v", err)
	}
	if _, err := repo.UpsertSubscription(ctx, s.DB, &domain.Subscription{
		UserID: "u1", PlanID: "basic", StripeSubscriptionID: "sub_7", Status: domain.SubscriptionActive,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	gw.cancelFn = func(context.Context, string) error { return errBoom }
	if _, err := s.Cancel(ctx, "u1"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}

	gw.cancelFn = nil
	sub, err := s.Cancel(ctx, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sub.Status != domain.SubscriptionCanceled || sub.CanceledAt == nil {
		t.Fatalf("unexpected subscription %+v", sub)
	}
}

func TestHandleWebhook_CheckoutCompletedSettlesTopup(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()
	co, _ := s.CheckoutTopup(ctx, "u1", "", "topup_500")

	gw.parseHookFn = func(_ []byte, sig string) (*payments.Event, error) {
		if sig != "good" {
			return nil, payments.ErrInvalidSignature
		}
		return &payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, Session: paidSession(co.SessionID, "u1")}, nil
	}

	if err := s.HandleWebhook(ctx, []byte(`{}`), "bad"); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("want ErrInvalidWebhook, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.HandleWebhook(ctx, []byte(`{}`), "good"); err != nil {
			t.Fatalf("webhook #%d: %v", i, err)
		}
	}
	if bal, _ := repo.GetBalance(ctx, s.DB, "u1"); bal != 500 {
		t.Fatalf("balance = %d; want 500", bal)
	}

	// the success-URL verify after the webhook doesn't grant again
	gw.getFn = func(_ context.Context, id string) (*payments.CheckoutSession, error) { return paidSession(id, "u1"), nil }
	st, err := s.VerifyTopup(ctx, "u1", co.SessionID)
	if err != nil || st.Granted || st.Credits != 500 {
		t.Fatalf("verify after webhook: %v %+v", err, st)
	}
}

func TestHandleWebhook_SubscriptionLifecycle(t *testing.T) {
	s, gw, _ := newBillingSvc(t)
	ctx := context.Background()
	if _, err := repo.UpsertSubscription(ctx, s.DB, &domain.Subscription{
		UserID: "u1", PlanID: "basic", StripeSubscriptionID: "sub_3", Status: domain.SubscriptionActive,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var next *payments.Event
	gw.parseHookFn = func([]byte, string) (*payments.Event, error) { return next, nil }

	next = &payments.Event{Type: payments.EventSubscriptionUpdated, Subscription: &payments.Subscription{ID: "sub_3", Status: "past_due"}}
	if err := s.HandleWebhook(ctx, nil, "sig"); err != nil {
		t.Fatalf("updated: %v", err)
	}
	got, _ := repo.GetSubscriptionByStripeID(ctx, s.DB, "sub_3")
	if got.Status != domain.SubscriptionPastDue {
		t.Fatalf("status = %s; want past_due", got.Status)
	}

	next = &payments.Event{Type: payments.EventSubscriptionDeleted, Subscription: &payments.Subscription{ID: "sub_3", Status: "active"}}
	if err := s.HandleWebhook(ctx, nil, "sig"); err != nil {
		t.Fatalf("deleted: %v", err)
	}
	got, _ = repo.GetSubscriptionByStripeID(ctx, s.DB, "sub_3")
	if got.Status != domain.SubscriptionCanceled || got.CanceledAt == nil {
		t.Fatalf("not canceled: %+v", got)
	}

	next = &payments.Event{Type: payments.EventSubscriptionUpdated, Subscription: &payments.Subscription{ID: "sub_unknown", Status: "active"}}
	if err := s.HandleWebhook(ctx, nil, "sig"); err != nil {
		t.Fatalf("unknown subscription must be acknowledged: %v", err)
	}

	next = &payments.Event{Type: "charge.refunded"}
	if err := s.HandleWebhook(ctx, nil, "sig"); err != nil {
		t.Fatalf("unhandled types must be acknowledged: %v", err)
	}
}

func TestSubscriptionStatusAndPlaceholder(t *testing.T) {
	cases := map[string]string{
		"active": domain.SubscriptionActive, "trialing": domain.SubscriptionActive,
		"past_due": domain.SubscriptionPastDue, "unpaid": domain.SubscriptionCanceled,
		"canceled": domain.SubscriptionCanceled, "incomplete": domain.SubscriptionIncomplete,
	}
	for in, want := range cases {
		if got := subscriptionStatus(in); got != want {
			t.Fatalf("subscriptionStatus(%q) = %q; want %q", in, got, want)
		}
	}
	if got := withSessionPlaceholder("https://a/b?x=1"); got != "https://a/b?x=1&session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("got %s", got)
	}
	already := "https://a/b?sid={CHECKOUT_SESSION_ID}"
	if withSessionPlaceholder(already) != already || withSessionPlaceholder("") != "" {
		t.Fatalf("placeholder must not be duplicated")
	}
}
