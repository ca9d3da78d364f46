package postgres

import (
	"context"
	"strings"

	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type paymentRepository struct {
	db *gorm.DB
}

func (r *paymentRepository) Upsert(ctx context.Context, payment domain.EscrowPayment) error {
	rec, err := toPaymentModel(payment)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	return translateError(err)
}

func (r *paymentRepository) GetByID(ctx context.Context, paymentID string) (domain.EscrowPayment, error) {
	var rec escrowPaymentModel
	if err := r.db.WithContext(ctx).Where("payment_id = ?", strings.TrimSpace(paymentID)).Take(&rec).Error; err != nil {
		return domain.EscrowPayment{}, translateError(err)
	}
	return toDomainPayment(rec)
}

// Transition is a conditional update: the row changes only while it still
// carries status from and escrow_released is false.
func (r *paymentRepository) Transition(ctx context.Context, next domain.EscrowPayment, from domain.PaymentStatus) error {
	rec, err := toPaymentModel(next)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&escrowPaymentModel{}).
		Where("payment_id = ? AND status = ? AND escrow_released = ?", next.ID, string(from), false).
		Updates(map[string]any{
			"status":             rec.Status,
			"escrow_released":    rec.EscrowReleased,
			"escrow_released_at": rec.EscrowReleasedAt,
			"refund_amount":      rec.RefundAmount,
			"refund_reason":      rec.RefundReason,
			"status_reason":      rec.StatusReason,
			"updated_at":         rec.UpdatedAt,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&escrowPaymentModel{}).Where("payment_id = ?", next.ID).Count(&count).Error; err != nil {
		return translateError(err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrStaleState
}

func (r *paymentRepository) ListByTask(ctx context.Context, taskID string) ([]domain.EscrowPayment, error) {
	var rows []escrowPaymentModel
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at asc, payment_id asc").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.EscrowPayment, 0, len(rows))
	for _, row := range rows {
		p, err := toDomainPayment(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// OutcomeCountsForPayee folds the payee's payments per task in SQL, leaving
// out refunds of superseded milestone funding.
func (r *paymentRepository) OutcomeCountsForPayee(ctx context.Context, payeeID string) (domain.PartyOutcomes, error) {
	var rows []domain.TaskSettlement
	err := r.db.WithContext(ctx).Model(&escrowPaymentModel{}).
		Select("task_id, BOOL_OR(escrow_released) AS released, BOOL_OR(status = ?) AS refunded", string(domain.PaymentStatusRefunded)).
		Where("payee_id = ?", payeeID).
		Where("NOT (status = ? AND refund_reason = ?)", string(domain.PaymentStatusRefunded), domain.RefundReasonSupersededFunding).
		Group("task_id").
		Scan(&rows).Error
	if err != nil {
		return domain.PartyOutcomes{}, translateError(err)
	}
	return domain.CountPartyOutcomes(rows), nil
}

var _ ports.PaymentRepository = (*paymentRepository)(nil)
