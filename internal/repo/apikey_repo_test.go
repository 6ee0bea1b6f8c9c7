package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

func TestAPIKeys_CreateRevokeTouch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	k := &domain.AdminAPIKey{ID: "k1", Name: "ci", Prefix: "abcd1234", Hash: "h", Scopes: []string{domain.ScopeBlogRead}}
	if err := CreateAPIKey(ctx, db, k); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := CreateAPIKey(ctx, db, &domain.AdminAPIKey{ID: "k2", Name: "x", Prefix: "abcd1234", Hash: "h"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	now := time.Now().UTC()
	if err := TouchAPIKey(ctx, db, "k1", now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := GetAPIKeyByPrefix(ctx, db, "abcd1234")
	if err != nil || got.LastUsedAt == nil {
		t.Fatalf("get: %+v %v", got, err)
	}

	if err := RevokeAPIKey(ctx, db, "abcd1234", now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := RevokeAPIKey(ctx, db, "abcd1234", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second revoke: %v", err)
	}
	keys, err := ListAPIKeys(ctx, db)
	if err != nil || len(keys) != 1 || keys[0].Active() {
		t.Fatalf("list: %+v %v", keys, err)
	}
}
