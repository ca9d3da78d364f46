package postgres

import (
	"context"
	"time"

	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
	"gorm.io/gorm"
)

type ledgerRepository struct {
	db *gorm.DB
}

func (r *ledgerRepository) Append(ctx context.Context, entry domain.LedgerEntry) error {
	rec := ledgerEntryModel{
		EntryID: entry.EntryID, EntityType: entry.EntityType, EntityID: entry.EntityID, TaskID: entry.TaskID,
		FromStatus: entry.FromStatus, ToStatus: entry.ToStatus, Amount: entry.Amount, OccurredAt: entry.OccurredAt,
	}
	return translateError(r.db.WithContext(ctx).Create(&rec).Error)
}

func (r *ledgerRepository) ListByTask(ctx context.Context, taskID string) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntryModel
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("occurred_at asc, entry_id asc").Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainLedgerEntry(row))
	}
	return out, nil
}

type reconciliationRepository struct {
	db *gorm.DB
}

func (r *reconciliationRepository) Enqueue(ctx context.Context, item domain.ReconciliationItem) error {
	rec := reconciliationItemModel{
		ItemID: item.ItemID, TaskID: item.TaskID, PaymentID: item.PaymentID,
		TargetState: string(item.TargetState), CompletedAt: item.CompletedAt,
		Attempts: item.Attempts, LastError: item.LastError, Status: item.Status,
		CreatedAt: item.CreatedAt, UpdatedAt: item.UpdatedAt,
	}
	if rec.Status == "" {
		rec.Status = domain.ReconciliationStatusPending
	}
	return translateError(r.db.WithContext(ctx).Create(&rec).Error)
}

// ListPending claims nothing; concurrent reconcilers may see the same rows,
// and the task write they retry is idempotent.
func (r *reconciliationRepository) ListPending(ctx context.Context, limit int) ([]domain.ReconciliationItem, error) {
	var rows []reconciliationItemModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.ReconciliationStatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]domain.ReconciliationItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainReconciliationItem(row))
	}
	return out, nil
}

func (r *reconciliationRepository) MarkResolved(ctx context.Context, itemID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&reconciliationItemModel{}).Where("item_id = ?", itemID).Updates(map[string]any{
		"status":     domain.ReconciliationStatusResolved,
		"updated_at": at,
	})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *reconciliationRepository) MarkAttemptFailed(ctx context.Context, itemID, errMsg string, abandon bool, at time.Time) error {
	updates := map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": errMsg,
		"updated_at": at,
	}
	if abandon {
		updates["status"] = domain.ReconciliationStatusAbandoned
	}
	res := r.db.WithContext(ctx).Model(&reconciliationItemModel{}).Where("item_id = ?", itemID).Updates(updates)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var (
	_ ports.LedgerRepository         = (*ledgerRepository)(nil)
	_ ports.ReconciliationRepository = (*reconciliationRepository)(nil)
)
