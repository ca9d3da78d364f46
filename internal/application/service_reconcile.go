package application

import (
	"context"

	"github.com/tachesure/escrow-service/internal/domain"
)

var systemActor = Actor{SubjectID: "escrow-reconciler", Role: "system"}

// ReconcileTaskStatuses replays task-status writes that failed after their
// payment write succeeded. Items are applied oldest first; an item that keeps
// failing is abandoned after ReconciliationMaxAttempts.
func (s *Service) ReconcileTaskStatuses(ctx context.Context, limit int) (int, error) {
	if s.reconciliation == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var items []domain.ReconciliationItem
	err := s.store(ctx, func(ctx context.Context) error {
		var listErr error
		items, listErr = s.reconciliation.ListPending(ctx, limit)
		return listErr
	})
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		now := s.nowFn()
		update := domain.TaskStatusUpdate{
			TaskID:      item.TaskID,
			Status:      item.TargetState,
			CompletedAt: item.CompletedAt,
			UpdatedAt:   now,
		}
		var (
			previous domain.TaskStatus
			changed  bool
		)
		err := s.store(ctx, func(ctx context.Context) error {
			var updateErr error
			previous, changed, updateErr = s.tasks.UpdateStatus(ctx, update)
			return updateErr
		})
		if err != nil {
			abandon := item.Attempts+1 >= s.cfg.ReconciliationMaxAttempts
			if markErr := s.store(ctx, func(ctx context.Context) error {
				return s.reconciliation.MarkAttemptFailed(ctx, item.ItemID, err.Error(), abandon, now)
			}); markErr != nil {
				return resolved, markErr
			}
			level := "retry"
			if abandon {
				level = "abandoned"
			}
			s.logger.WarnContext(ctx, "task status reconciliation failed",
				"operation", "reconcile_task_status",
				"outcome", level,
				"item_id", item.ItemID,
				"task_id", item.TaskID,
				"payment_id", item.PaymentID,
				"attempts", item.Attempts+1,
				"error", err,
			)
			continue
		}

		if !changed && previous != item.TargetState {
			s.logger.InfoContext(ctx, "task status reconciliation superseded",
				"operation", "reconcile_task_status",
				"outcome", "superseded",
				"item_id", item.ItemID,
				"task_id", item.TaskID,
				"payment_id", item.PaymentID,
				"current_status", previous,
				"target_status", item.TargetState,
			)
		}
		if changed {
			s.recordTransition(ctx, systemActor, transition{
				EntityType: domain.EntityTypeTask,
				EntityID:   item.TaskID,
				TaskID:     item.TaskID,
				From:       string(previous),
				To:         string(item.TargetState),
				At:         now,
			})
		}
		if err := s.store(ctx, func(ctx context.Context) error {
			return s.reconciliation.MarkResolved(ctx, item.ItemID, now)
		}); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}
