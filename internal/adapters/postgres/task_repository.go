package postgres

import (
	"context"

	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type taskRepository struct {
	db *gorm.DB
}

func (r *taskRepository) UpdateStatus(ctx context.Context, update domain.TaskStatusUpdate) (domain.TaskStatus, bool, error) {
	var (
		previous domain.TaskStatus
		changed  bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec taskModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("task_id = ?", update.TaskID).Take(&rec).Error; err != nil {
			return err
		}
		previous = domain.TaskStatus(rec.Status)
		if !domain.CanReplaceTaskStatus(previous, update.Status) {
			return nil
		}
		changed = true
		return tx.Model(&taskModel{}).Where("task_id = ?", update.TaskID).Updates(map[string]any{
			"status":       string(update.Status),
			"completed_at": update.CompletedAt,
			"updated_at":   update.UpdatedAt,
		}).Error
	})
	if err != nil {
		return "", false, translateError(err)
	}
	return previous, changed, nil
}

var _ ports.TaskRepository = (*taskRepository)(nil)
