package postgres

import (
	"context"
	"strings"

	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
	"gorm.io/gorm"
)

type milestoneRepository struct {
	db *gorm.DB
}

func (r *milestoneRepository) CreateBatch(ctx context.Context, milestones []domain.Milestone) error {
	if len(milestones) == 0 {
		return nil
	}
	rows := make([]milestoneModel, 0, len(milestones))
	for _, m := range milestones {
		rows = append(rows, toMilestoneModel(m))
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	return translateError(err)
}

func (r *milestoneRepository) GetByID(ctx context.Context, milestoneID string) (domain.Milestone, error) {
	var rec milestoneModel
	if err := r.db.WithContext(ctx).Where("milestone_id = ?", strings.TrimSpace(milestoneID)).Take(&rec).Error; err != nil {
		return domain.Milestone{}, translateError(err)
	}
	return toDomainMilestone(rec), nil
}

func (r *milestoneRepository) GetByPaymentID(ctx context.Context, paymentID string) (domain.Milestone, error) {
	var rec milestoneModel
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Take(&rec).Error; err != nil {
		return domain.Milestone{}, translateError(err)
	}
	return toDomainMilestone(rec), nil
}

func (r *milestoneRepository) ListByTask(ctx context.Context, taskID string) ([]domain.Milestone, error) {
	var rows []milestoneModel
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("position asc, created_at asc").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.Milestone, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainMilestone(row))
	}
	return out, nil
}

func (r *milestoneRepository) Transition(ctx context.Context, next domain.Milestone, from domain.MilestoneStatus) error {
	res := r.db.WithContext(ctx).Model(&milestoneModel{}).
		Where("milestone_id = ? AND status = ?", next.ID, string(from)).
		Updates(map[string]any{
			"status":       string(next.Status),
			"payment_id":   next.PaymentID,
			"completed_at": next.CompletedAt,
			"updated_at":   next.UpdatedAt,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&milestoneModel{}).Where("milestone_id = ?", next.ID).Count(&count).Error; err != nil {
		return translateError(err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrStaleState
}

var _ ports.MilestoneRepository = (*milestoneRepository)(nil)
