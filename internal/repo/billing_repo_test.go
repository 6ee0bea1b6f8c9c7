package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

func TestPayment_TransitionOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &domain.Payment{UserID: "u1", Kind: domain.PaymentKindTopup, ProductID: "topup_100", StripeSessionID: "cs_1", Credits: 100}
	if err := CreatePayment(ctx, db, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != domain.PaymentPending || p.ID == "" {
		t.Fatalf("defaults not applied: %+v", p)
	}
	dup := &domain.Payment{UserID: "u1", Kind: domain.PaymentKindTopup, ProductID: "topup_100", StripeSessionID: "cs_1"}
	if err := CreatePayment(ctx, db, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	ok, err := TransitionPayment(ctx, db, p.ID, domain.PaymentPaid)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = TransitionPayment(ctx, db, p.ID, domain.PaymentPaid)
	if err != nil || ok {
		t.Fatalf("second transition must be a no-op: ok=%v err=%v", ok, err)
	}
	got, _ := GetPaymentBySession(ctx, db, "cs_1")
	if got.Status != domain.PaymentPaid {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestSubscription_UpsertAndRefillQueue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := UpsertSubscription(ctx, db, &domain.Subscription{
		UserID: "u1", PlanID: "basic", StripeSubscriptionID: "sub_1",
		Status: domain.SubscriptionActive, MonthlyCredits: 200,
	})
	if err != nil || s.ID == "" {
		t.Fatalf("insert: %+v %v", s, err)
	}
	s2, err := UpsertSubscription(ctx, db, &domain.Subscription{
		UserID: "u1", PlanID: "pro", StripeSubscriptionID: "sub_1",
		Status: domain.SubscriptionActive, MonthlyCredits: 1000,
	})
	if err != nil || s2.ID != s.ID || s2.PlanID != "pro" || s2.MonthlyCredits != 1000 {
		t.Fatalf("update: %+v %v", s2, err)
	}

	act, err := GetActiveSubscription(ctx, db, "u1")
	if err != nil || act.StripeSubscriptionID != "sub_1" {
		t.Fatalf("active: %+v %v", act, err)
	}

	now := time.Now().UTC()
	due, err := ListDueRefills(ctx, db, now, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("due before refill: %d %v", len(due), err)
	}
	if err := MarkRefilled(ctx, db, s.ID, now); err != nil {
		t.Fatalf("mark: %v", err)
	}
	due, _ = ListDueRefills(ctx, db, now.Add(-time.Hour), 10)
	if len(due) != 0 {
		t.Fatalf("refilled subscription still due")
	}

	if err := SetSubscriptionStatus(ctx, db, "sub_1", domain.SubscriptionCanceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := GetActiveSubscription(ctx, db, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("canceled subscription must not be active: %v", err)
	}
	got, _ := GetSubscriptionByStripeID(ctx, db, "sub_1")
	if got.CanceledAt == nil {
		t.Fatalf("canceled_at not stamped")
	}
	if err := SetSubscriptionStatus(ctx, db, "sub_missing", domain.SubscriptionCanceled); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscription_OneActivePerUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := UpsertSubscription(ctx, db, &domain.Subscription{
		UserID: "u1", PlanID: "basic", StripeSubscriptionID: "sub_a", Status: domain.SubscriptionActive,
	}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := UpsertSubscription(ctx, db, &domain.Subscription{
		UserID: "u1", PlanID: "pro", StripeSubscriptionID: "sub_b", Status: domain.SubscriptionActive,
	}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second active row: want ErrDuplicate, got %v", err)
	}

	// inactive rows and other users are unaffected
	if _, err := UpsertSubscription(ctx, db, &domain.Subscription{
		UserID: "u1", PlanID: "pro", StripeSubscriptionID: "sub_b", Status: domain.SubscriptionCanceled,
	}); err != nil {
		t.Fatalf("canceled row: %v", err)
	}
	if _, err := UpsertSubscription(ctx, db, &domain.Subscription{
		UserID: "u2", PlanID: "pro", StripeSubscriptionID: "sub_c", Status: domain.SubscriptionActive,
	}); err != nil {
		t.Fatalf("other user: %v", err)
	}

	// reactivating the canceled row is refused too
	if _, err := UpsertSubscription(ctx, db, &domain.Subscription{
		UserID: "u1", PlanID: "pro", StripeSubscriptionID: "sub_b", Status: domain.SubscriptionActive,
	}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("reactivate: want ErrDuplicate, got %v", err)
	}
}
