package repo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gorm.io/gorm"
)

func TestGrantCredits_IdempotentPerReasonRef(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	bal, err := GrantCredits(ctx, db, "u1", 5, "signup", "u1")
	if err != nil || bal != 5 {
		t.Fatalf("first grant: bal=%d err=%v", bal, err)
	}
	if _, err := GrantCredits(ctx, db, "u1", 5, "signup", "u1"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second grant should be ErrDuplicate, got %v", err)
	}
	if got, _ := GetBalance(ctx, db, "u1"); got != 5 {
		t.Fatalf("balance changed on duplicate grant: %d", got)
	}
	if _, err := GrantCredits(ctx, db, "u1", 0, "topup", "x"); err == nil {
		t.Fatalf("zero grant must fail")
	}
}

func TestDebitCredits_Conditional(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := DebitCredits(ctx, db, "nobody", 1, "generation", "g0"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("debit without balance row: %v", err)
	}
	if _, err := GrantCredits(ctx, db, "u1", 2, "topup", "s1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	bal, err := DebitCredits(ctx, db, "u1", 2, "generation", "g1")
	if err != nil || bal != 0 {
		t.Fatalf("debit: bal=%d err=%v", bal, err)
	}
	if _, err := DebitCredits(ctx, db, "u1", 1, "generation", "g2"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	n, err := CountTransactions(ctx, db, "u1")
	if err != nil || n != 2 {
		t.Fatalf("ledger count = %d (%v); want 2", n, err)
	}
	items, err := ListTransactionsPage(ctx, db, "u1", 0, 10)
	if err != nil || len(items) != 2 {
		t.Fatalf("list ledger: %v %d", err, len(items))
	}
	var sum int
	for _, it := range items {
		sum += it.Delta
	}
	if sum != 0 {
		t.Fatalf("ledger deltas should net to the balance, got %d", sum)
	}
}

func TestDebitCredits_ConcurrentNeverNegative(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if _, err := GrantCredits(ctx, db, "u1", 3, "topup", "s1"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				_, err := DebitCredits(ctx, tx, "u1", 1, "generation", string(rune('a'+i)))
				return err
			})
			if err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	bal, _ := GetBalance(ctx, db, "u1")
	if bal < 0 || oks+bal != 3 {
		t.Fatalf("oks=%d balance=%d; want oks+balance == 3 and balance >= 0", oks, bal)
	}
}
