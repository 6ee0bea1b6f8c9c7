package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
)

func newUserSvc(t *testing.T) (*UserService, *stubIdentity, *stubGateway) {
	t.Helper()
	id, gw := &stubIdentity{}, &stubGateway{}
	return &UserService{DB: newTestDB(t), Identity: id, Payments: gw, SignupGrant: 5}, id, gw
}

func TestUserService_GetCreatesProfileAndGrantsOnce(t *testing.T) {
	s, _, _ := newUserSvc(t)
	ctx := context.Background()

	acc, err := s.Get(ctx, "u1", "a@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Profile.ID != "u1" || acc.Profile.Email != "a@example.com" || acc.Credits != 5 {
		t.Fatalf("unexpected account %+v / %+v", acc, acc.Profile)
	}
	if acc.Subscription != nil {
		t.Fatalf("no subscription expected")
	}

	acc, err = s.Get(ctx, "u1", "new@example.com")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if acc.Credits != 5 {
		t.Fatalf("signup grant applied twice: %d", acc.Credits)
	}
	if acc.Profile.Email != "new@example.com" {
		t.Fatalf("email not refreshed: %q", acc.Profile.Email)
	}
	n, _ := repo.CountTransactions(ctx, s.DB, "u1")
	if n != 1 {
		t.Fatalf("ledger entries = %d; want 1", n)
	}
}

func TestUserService_GetIncludesActiveSubscription(t *testing.T) {
	s, _, _ := newUserSvc(t)
	ctx := context.Background()
	if _, err := repo.UpsertSubscription(ctx, s.DB, &domain.Subscription{
		UserID: "u1", PlanID: "basic", StripeSubscriptionID: "sub_1", Status: domain.SubscriptionActive, MonthlyCredits: 200,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	acc, err := s.Get(ctx, "u1", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Subscription == nil || acc.Subscription.PlanID != "basic" {
		t.Fatalf("subscription missing: %+v", acc.Subscription)
	}
}

func TestUserService_Update(t *testing.T) {
	s, _, _ := newUserSvc(t)
	ctx := context.Background()

	name := "  Ada   Lovelace "
	avatar := "https://cdn.example.com/a.png"
	p, err := s.Update(ctx, "u1", "a@example.com", &name, &avatar)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.DisplayName != "Ada Lovelace" || p.AvatarURL != avatar {
		t.Fatalf("unexpected profile %+v", p)
	}

	bad := "ftp://example.com/x.png"
	if _, err := s.Update(ctx, "u1", "", nil, &bad); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("want ErrInvalidProfile for bad avatar, got %v", err)
	}
	long := strings.Repeat("x", maxDisplayNameRunes+1)
	if _, err := s.Update(ctx, "u1", "", &long, nil); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("want ErrInvalidProfile for long name, got %v", err)
	}
	if _, err := s.Update(ctx, "u1", "", nil, nil); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("want ErrInvalidProfile for empty update, got %v", err)
	}

	empty := ""
	p, err = s.Update(ctx, "u1", "", nil, &empty)
	if err != nil || p.AvatarURL != "" {
		t.Fatalf("clearing avatar failed: %v %+v", err, p)
	}
}

func TestUserService_DeleteCancelsAndRemovesEverything(t *testing.T) {
	s, id, gw := newUserSvc(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, "u1", "a@example.com"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.UpsertSubscription(ctx, s.DB, &domain.Subscription{
		UserID: "u1", PlanID: "pro", StripeSubscriptionID: "sub_9", Status: domain.SubscriptionActive,
	}); err != nil {
		t.Fatalf("seed sub: %v", err)
	}

	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(gw.canceled) != 1 || gw.canceled[0] != "sub_9" {
		t.Fatalf("subscription not canceled: %v", gw.canceled)
	}
	if len(id.deleted) != 1 || id.deleted[0] != "u1" {
		t.Fatalf("identity not deleted: %v", id.deleted)
	}
	if _, err := repo.GetProfile(ctx, s.DB, "u1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("profile still present: %v", err)
	}
	if bal, _ := repo.GetBalance(ctx, s.DB, "u1"); bal != 0 {
		t.Fatalf("balance row still present: %d", bal)
	}
}

func TestUserService_DeleteStopsOnUpstreamFailure(t *testing.T) {
	s, id, _ := newUserSvc(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, "u1", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	id.err = errBoom

	if err := s.Delete(ctx, "u1"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
	if _, err := repo.GetProfile(ctx, s.DB, "u1"); err != nil {
		t.Fatalf("profile must survive a failed identity delete: %v", err)
	}
}

func TestUserService_DeleteRetryAfterIdentityFailure(t *testing.T) {
	s, id, gw := newUserSvc(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, "u1", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.UpsertSubscription(ctx, s.DB, &domain.Subscription{
		UserID: "u1", PlanID: "basic", StripeSubscriptionID: "sub_1", Status: domain.SubscriptionActive,
	}); err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	// the provider refuses a second cancel, as the real one does
	gw.cancelFn = func(context.Context, string) error {
		if len(gw.canceled) > 1 {
			return errors.New("subscription already canceled")
		}
		return nil
	}

	id.err = errBoom
	if err := s.Delete(ctx, "u1"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("first delete: want ErrUpstream, got %v", err)
	}
	sub, err := repo.GetSubscriptionByStripeID(ctx, s.DB, "sub_1")
	if err != nil || sub.Status != domain.SubscriptionCanceled {
		t.Fatalf("local subscription after provider cancel: %v %+v", err, sub)
	}

	id.err = nil
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(gw.canceled) != 1 {
		t.Fatalf("provider cancels = %v; want one", gw.canceled)
	}
	if len(id.deleted) != 2 {
		t.Fatalf("identity deletes = %v", id.deleted)
	}
}

func TestUserService_DeletedAccountStaysDeleted(t *testing.T) {
	s, _, _ := newUserSvc(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, "u1", "a@example.com"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// a token issued before the delete is still signed and unexpired
	if _, err := s.Get(ctx, "u1", "a@example.com"); !errors.Is(err, ErrAccountDeleted) {
		t.Fatalf("want ErrAccountDeleted, got %v", err)
	}
	if bal, _ := repo.GetBalance(ctx, s.DB, "u1"); bal != 0 {
		t.Fatalf("signup credits granted again: %d", bal)
	}
	if n, _ := repo.CountTransactions(ctx, s.DB, "u1"); n != 0 {
		t.Fatalf("ledger rows after delete: %d", n)
	}
}

func TestUserService_HistoryPaging(t *testing.T) {
	s, _, _ := newUserSvc(t)
	ctx := context.Background()

	items, total, err := s.CreditHistory(ctx, "nobody", 1, 10)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty history: %v %d %d", err, total, len(items))
	}

	if _, err := s.Get(ctx, "u1", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := repo.GrantCredits(ctx, s.DB, "u1", 1, domain.ReasonTopup, string(rune('a'+i))); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	items, total, err = s.CreditHistory(ctx, "u1", 2, 2)
	if err != nil || total != 4 || len(items) != 2 {
		t.Fatalf("page 2: err=%v total=%d len=%d", err, total, len(items))
	}

	gens, total, err := s.Generations(ctx, "u1", 0, 0)
	if err != nil || total != 0 || len(gens) != 0 {
		t.Fatalf("generations: %v %d %d", err, total, len(gens))
	}
}

func TestPageBounds(t *testing.T) {
	cases := []struct{ page, size, off, lim int }{
		{0, 0, 0, defaultPageSize},
		{1, 10, 0, 10},
		{3, 10, 20, 10},
		{-2, 5, 0, 5},
	}
	for _, c := range cases {
		off, lim := pageBounds(c.page, c.size)
		if off != c.off || lim != c.lim {
			t.Fatalf("pageBounds(%d,%d) = %d,%d; want %d,%d", c.page, c.size, off, lim, c.off, c.lim)
		}
	}
}
