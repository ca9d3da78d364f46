package application

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tachesure/escrow-service/internal/contracts"
	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
)

type transition struct {
	EntityType string
	EntityID   string
	TaskID     string
	From       string
	To         string
	Amount     int64
	At         time.Time
}

// recordTransition appends the audit entry and enqueues the status event.
// Both happen after the authoritative write, so failures are logged and
// never undo the transition.
func (s *Service) recordTransition(ctx context.Context, actor Actor, t transition) {
	if s.ledger != nil {
		entry := domain.LedgerEntry{
			EntryID:    uuid.NewString(),
			EntityType: t.EntityType,
			EntityID:   t.EntityID,
			TaskID:     t.TaskID,
			FromStatus: t.From,
			ToStatus:   t.To,
			Amount:     t.Amount,
			OccurredAt: t.At,
		}
		if err := s.storeWithRetry(ctx, func(ctx context.Context) error { return s.ledger.Append(ctx, entry) }); err != nil {
			s.logger.ErrorContext(ctx, "ledger append failed",
				"operation", "record_transition",
				"outcome", "failure",
				"entity_type", t.EntityType,
				"entity_id", t.EntityID,
				"to_status", t.To,
				"error", err,
			)
		}
	}
	eventType := domain.EventPaymentStatusChanged
	switch t.EntityType {
	case domain.EntityTypeMilestone:
		eventType = domain.EventMilestoneStatusChanged
	case domain.EntityTypeTask:
		eventType = domain.EventTaskStatusChanged
	}
	if err := s.enqueueEvent(ctx, eventType, actor.RequestID, contracts.StatusChangedPayload{
		EntityType: t.EntityType,
		EntityID:   t.EntityID,
		TaskID:     t.TaskID,
		FromStatus: t.From,
		ToStatus:   t.To,
		Amount:     t.Amount,
		Timestamp:  t.At.Format(time.RFC3339Nano),
	}, t.EntityID, t.At); err != nil {
		s.logger.ErrorContext(ctx, "event enqueue failed",
			"operation", "record_transition",
			"outcome", "failure",
			"event_type", eventType,
			"entity_id", t.EntityID,
			"error", err,
		)
	}
}

func (s *Service) enqueueEvent(ctx context.Context, eventType, traceID string, data any, partitionKey string, now time.Time) error {
	if s.outbox == nil {
		return nil
	}
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return domain.ErrInvalidInput
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	env := contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClass(eventType),
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          traceID,
		SchemaVersion:    "v1",
		Data:             raw,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.store(ctx, func(ctx context.Context) error {
		return s.outbox.Enqueue(ctx, ports.OutboxEvent{
			EventID:          env.EventID,
			EventType:        eventType,
			PartitionKey:     partitionKey,
			PartitionKeyPath: env.PartitionKeyPath,
			Payload:          payload,
			OccurredAt:       now,
			SchemaVersion:    env.SchemaVersion,
			TraceID:          traceID,
		})
	})
}

// setTaskStatus is the best-effort second leg of the escrow saga. A failed
// write becomes a reconciliation item instead of an error for the caller.
func (s *Service) setTaskStatus(ctx context.Context, actor Actor, paymentID, taskID string, status domain.TaskStatus, at time.Time) {
	update := domain.TaskStatusUpdate{TaskID: taskID, Status: status, UpdatedAt: at}
	if status == domain.TaskStatusCompleted {
		completed := at
		update.CompletedAt = &completed
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
	if err == nil {
		if changed {
			s.recordTransition(ctx, actor, transition{
				EntityType: domain.EntityTypeTask,
				EntityID:   taskID,
				TaskID:     taskID,
				From:       string(previous),
				To:         string(status),
				At:         at,
			})
		}
		return
	}

	s.logger.WarnContext(ctx, "task status write failed, scheduling reconciliation",
		"operation", "set_task_status",
		"outcome", "deferred",
		"task_id", taskID,
		"payment_id", paymentID,
		"target_status", string(status),
		"error", err,
	)
	if s.reconciliation == nil {
		return
	}
	item := domain.ReconciliationItem{
		ItemID:      uuid.NewString(),
		TaskID:      taskID,
		PaymentID:   paymentID,
		TargetState: status,
		CompletedAt: update.CompletedAt,
		Attempts:    1,
		LastError:   err.Error(),
		Status:      domain.ReconciliationStatusPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if enqueueErr := s.storeWithRetry(ctx, func(ctx context.Context) error { return s.reconciliation.Enqueue(ctx, item) }); enqueueErr != nil {
		s.logger.ErrorContext(ctx, "reconciliation enqueue failed",
			"operation", "set_task_status",
			"outcome", "failure",
			"task_id", taskID,
			"payment_id", paymentID,
			"target_status", string(status),
			"error", enqueueErr,
		)
	}
}
