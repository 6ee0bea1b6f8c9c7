package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

// ErrInsufficientCredits is returned by DebitCredits when the balance is
// lower than the requested amount. Nothing is written in that case.
var ErrInsufficientCredits = errors.New("insufficient credits")

// GetBalance returns the user's balance; a missing row reads as zero.
func GetBalance(ctx context.Context, db *gorm.DB, userID string) (int, error) {
	var b domain.CreditBalance
	err := db.WithContext(ctx).First(&b, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

func ensureBalanceRow(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.CreditBalance{UserID: userID, Balance: 0, UpdatedAt: time.Now().UTC()}).Error
}

// LedgerEntryExists reports whether (reason, ref) has already been applied.
func LedgerEntryExists(ctx context.Context, db *gorm.DB, reason, ref string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CreditTransaction{}).
		Where("reason = ? AND ref = ?", reason, ref).
		Count(&n).Error
	return n > 0, err
}

// GrantCredits adds amount to the balance and appends a ledger entry keyed by
// (reason, ref). A second grant with the same key returns ErrDuplicate and
// leaves the balance untouched. Run it inside a transaction.
func GrantCredits(ctx context.Context, tx *gorm.DB, userID string, amount int, reason, ref string) (int, error) {
	if amount <= 0 {
		return 0, errors.New("grant amount must be positive")
	}
	if exists, err := LedgerEntryExists(ctx, tx, reason, ref); err != nil {
		return 0, err
	} else if exists {
		return 0, ErrDuplicate
	}
	if err := ensureBalanceRow(ctx, tx, userID); err != nil {
		return 0, err
	}
	err := tx.WithContext(ctx).Model(&domain.CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return 0, err
	}
	return appendLedger(ctx, tx, userID, amount, reason, ref)
}

// DebitCredits subtracts amount only when the balance covers it. The check
// and the write are a single conditional UPDATE, so concurrent debits can't
// drive the balance negative. Run it inside a transaction.
func DebitCredits(ctx context.Context, tx *gorm.DB, userID string, amount int, reason, ref string) (int, error) {
	if amount <= 0 {
		return 0, errors.New("debit amount must be positive")
	}
	res := tx.WithContext(ctx).Model(&domain.CreditBalance{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrInsufficientCredits
	}
	return appendLedger(ctx, tx, userID, -amount, reason, ref)
}

func appendLedger(ctx context.Context, tx *gorm.DB, userID string, delta int, reason, ref string) (int, error) {
	bal, err := GetBalance(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	entry := &domain.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Delta:        delta,
		Reason:       reason,
		Ref:          ref,
		BalanceAfter: bal,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		if isDuplicate(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return bal, nil
}

// ListTransactionsPage returns a user's ledger, newest first.
func ListTransactionsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	q := db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	err := paginate(q, offset, limit).Find(&out).Error
	return out, err
}

// CountTransactions returns the number of ledger entries for a user.
func CountTransactions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CreditTransaction{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}
