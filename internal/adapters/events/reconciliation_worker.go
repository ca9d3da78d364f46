package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tachesure/escrow-service/internal/application"
)

// ReconciliationWorker retries task-status writes that failed after their
// payment transition committed.
type ReconciliationWorker struct {
	logger    *slog.Logger
	service   *application.Service
	interval  time.Duration
	batchSize int
}

func NewReconciliationWorker(logger *slog.Logger, service *application.Service, interval time.Duration, batchSize int) *ReconciliationWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReconciliationWorker{logger: logger, service: service, interval: interval, batchSize: batchSize}
}

func (w *ReconciliationWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		resolved, err := w.service.ReconcileTaskStatuses(ctx, w.batchSize)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			w.logger.ErrorContext(ctx, "reconciliation iteration failed",
				"module", "events.reconciliation_worker",
				"layer", "adapter",
				"operation", "reconcile",
				"outcome", "failure",
				"error", err,
			)
		case resolved > 0:
			w.logger.InfoContext(ctx, "task statuses reconciled",
				"module", "events.reconciliation_worker",
				"layer", "adapter",
				"operation", "reconcile",
				"outcome", "success",
				"resolved", resolved,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
