package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
)

func userRouter(u *stubUsers, g *stubGens) http.Handler {
	r := newEngine()
	h := New(Deps{Users: u, Generations: g})
	api := r.Group("/api", asUser("u1", "u1@example.com"))
	api.GET("/user", h.GetUser)
	api.PATCH("/user", h.UpdateUser)
	api.DELETE("/user", h.DeleteUser)
	api.GET("/user/generations", h.ListGenerations)
	api.GET("/user/generations/:id", h.GetGeneration)
	api.GET("/user/credits/history", h.CreditHistory)
	return r
}

func TestGetUser(t *testing.T) {
	u := &stubUsers{getFn: func(_ context.Context, id, email string) (*services.Account, error) {
		if id != "u1" || email != "u1@example.com" {
			t.Fatalf("caller not passed through: %q %q", id, email)
		}
		return &services.Account{Profile: &domain.Profile{ID: id}, Credits: 10}, nil
	}}
	w := doJSON(t, userRouter(u, nil), http.MethodGet, "/api/user", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if acct := decode[services.Account](t, w); acct.Credits != 10 || acct.Profile.ID != "u1" {
		t.Fatalf("unexpected account %+v", acct)
	}
}

func TestUpdateUser(t *testing.T) {
	var gotName, gotAvatar *string
	u := &stubUsers{updateFn: func(_ context.Context, _, _ string, n, a *string) (*domain.Profile, error) {
		gotName, gotAvatar = n, a
		if n != nil && *n == "x" {
			return nil, fmt.Errorf("%w: display_name too short", services.ErrInvalidProfile)
		}
		return &domain.Profile{ID: "u1", DisplayName: *n}, nil
	}}
	r := userRouter(u, nil)

	w := doJSON(t, r, http.MethodPatch, "/api/user", `{"display_name":"Ada"}`)
	if w.Code != http.StatusOK || gotName == nil || *gotName != "Ada" || gotAvatar != nil {
		t.Fatalf("patch: %d %v %v", w.Code, gotName, gotAvatar)
	}
	if w := doJSON(t, r, http.MethodPatch, "/api/user", `{"display_name":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("validation: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPatch, "/api/user", `{`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", w.Code)
	}
}

func TestDeleteUser(t *testing.T) {
	calls := 0
	u := &stubUsers{deleteFn: func(context.Context, string) error {
		calls++
		if calls == 2 {
			return fmt.Errorf("%w: identity: 500", services.ErrUpstream)
		}
		return nil
	}}
	r := userRouter(u, nil)
	if w := doJSON(t, r, http.MethodDelete, "/api/user", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodDelete, "/api/user", nil); w.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure: %d", w.Code)
	}
}

func TestListGenerations_ETagAndPagination(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	listed := 0
	u := &stubUsers{
		statsFn: func(context.Context, string) (int64, *time.Time, error) { return 3, &ts, nil },
		gensFn: func(_ context.Context, _ string, page, size int) ([]domain.Generation, int64, error) {
			listed++
			if page != 2 || size != 2 {
				t.Fatalf("page=%d size=%d", page, size)
			}
			return []domain.Generation{{ID: "g3"}}, 3, nil
		},
	}
	r := userRouter(u, nil)

	w := doJSON(t, r, http.MethodGet, "/api/user/generations?page=2&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	resp := decode[ListGenerationsResponse](t, w)
	if etag == "" || len(resp.Generations) != 1 || resp.Pagination.TotalPages != 2 || resp.Pagination.HasNext {
		t.Fatalf("unexpected %q %+v", etag, resp)
	}

	w = doJSON(t, r, http.MethodGet, "/api/user/generations?page=2&page_size=2", nil, "If-None-Match", etag)
	if w.Code != http.StatusNotModified || listed != 1 {
		t.Fatalf("conditional GET: %d listed=%d", w.Code, listed)
	}
}

func TestListGenerations_StatsFailureStillLists(t *testing.T) {
	u := &stubUsers{
		statsFn: func(context.Context, string) (int64, *time.Time, error) { return 0, nil, errors.New("db") },
		gensFn: func(context.Context, string, int, int) ([]domain.Generation, int64, error) {
			return []domain.Generation{}, 0, nil
		},
	}
	w := doJSON(t, userRouter(u, nil), http.MethodGet, "/api/user/generations", nil)
	if w.Code != http.StatusOK || w.Header().Get("ETag") != "" {
		t.Fatalf("status = %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
}

func TestGetGeneration(t *testing.T) {
	g := &stubGens{getFn: func(_ context.Context, uid, id string) (*domain.Generation, error) {
		if uid != "u1" {
			t.Fatalf("uid = %q", uid)
		}
		if id == "g1" {
			return &domain.Generation{ID: "g1", UserID: uid}, nil
		}
		return nil, services.ErrGenerationNotFound
	}}
	r := userRouter(&stubUsers{}, g)
	if w := doJSON(t, r, http.MethodGet, "/api/user/generations/g1", nil); w.Code != http.StatusOK {
		t.Fatalf("found: %d", w.Code)
	}
	w := doJSON(t, r, http.MethodGet, "/api/user/generations/g2", nil)
	if w.Code != http.StatusNotFound || decode[ErrorResponse](t, w).Code != ErrCodeNotFound {
		t.Fatalf("missing: %d", w.Code)
	}
}

func TestCreditHistory(t *testing.T) {
	u := &stubUsers{historyFn: func(context.Context, string, int, int) ([]domain.CreditTransaction, int64, error) {
		return []domain.CreditTransaction{{ID: "t1", Delta: 50, Reason: domain.ReasonSignup}}, 1, nil
	}}
	w := doJSON(t, userRouter(u, nil), http.MethodGet, "/api/user/credits/history", nil)
	resp := decode[CreditHistoryResponse](t, w)
	if w.Code != http.StatusOK || len(resp.Transactions) != 1 || resp.Pagination.Total != 1 {
		t.Fatalf("unexpected %d %+v", w.Code, resp)
	}
}
