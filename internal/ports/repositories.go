package ports

import (
	"context"
	"time"

	"github.com/tachesure/escrow-service/internal/domain"
)

// PaymentRepository is the payment half of the Ledger Store. Transition must
// apply next only if the stored row still has status from and has not been
// released; otherwise it returns domain.ErrStaleState (or ErrNotFound).
type PaymentRepository interface {
	Upsert(ctx context.Context, payment domain.EscrowPayment) error
	GetByID(ctx context.Context, paymentID string) (domain.EscrowPayment, error)
	Transition(ctx context.Context, next domain.EscrowPayment, from domain.PaymentStatus) error
	ListByTask(ctx context.Context, taskID string) ([]domain.EscrowPayment, error)
	OutcomeCountsForPayee(ctx context.Context, payeeID string) (domain.PartyOutcomes, error)
}

// MilestoneRepository follows the same compare-and-swap contract as
// PaymentRepository.Transition, keyed on milestone status.
type MilestoneRepository interface {
	Transition(ctx context.Context, next domain.Milestone, from domain.MilestoneStatus) error
	CreateBatch(ctx context.Context, milestones []domain.Milestone) error
	GetByID(ctx context.Context, milestoneID string) (domain.Milestone, error)
	GetByPaymentID(ctx context.Context, paymentID string) (domain.Milestone, error)
	ListByTask(ctx context.Context, taskID string) ([]domain.Milestone, error)
}

// TaskRepository writes the task fields owned by escrow. UpdateStatus
// returns the status it found and changed=false when the task already had the
// requested status or its current status may not be replaced by it
// (domain.CanReplaceTaskStatus).
type TaskRepository interface {
	UpdateStatus(ctx context.Context, update domain.TaskStatusUpdate) (previous domain.TaskStatus, changed bool, err error)
}

type LedgerRepository interface {
	Append(ctx context.Context, entry domain.LedgerEntry) error
	ListByTask(ctx context.Context, taskID string) ([]domain.LedgerEntry, error)
}

type ReconciliationRepository interface {
	Enqueue(ctx context.Context, item domain.ReconciliationItem) error
	ListPending(ctx context.Context, limit int) ([]domain.ReconciliationItem, error)
	MarkResolved(ctx context.Context, itemID string, at time.Time) error
	MarkAttemptFailed(ctx context.Context, itemID, errMsg string, abandon bool, at time.Time) error
}

type PartySignalRepository interface {
	Get(ctx context.Context, partyID string) (domain.PartySignals, error)
	Upsert(ctx context.Context, signals domain.PartySignals) error
}

type OutboxEvent struct {
	EventID          string
	EventType        string
	PartitionKey     string
	PartitionKeyPath string
	Payload          []byte
	OccurredAt       time.Time
	SchemaVersion    string
	TraceID          string
}

type OutboxRecord struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	PublishedAt  *time.Time
	LastError    *string
	LastErrorAt  *time.Time
	FirstSeenAt  time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID string, errMsg string, at time.Time) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}
