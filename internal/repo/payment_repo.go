package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
)

// CreatePayment records a pending checkout session.
func CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPaymentBySession looks a payment up by checkout session id.
func GetPaymentBySession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := db.WithContext(ctx).First(&p, "stripe_session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// TransitionPayment moves a pending payment to status. It reports false when
// the payment was no longer pending, which makes settlement run once.
func TransitionPayment(ctx context.Context, db *gorm.DB, id, status string) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentPending).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
