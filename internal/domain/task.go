package domain

import "time"

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskStatusUpdate is the only write this service makes to a task.
type TaskStatusUpdate struct {
	TaskID      string
	Status      TaskStatus
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// CanReplaceTaskStatus reports whether a write of next may overwrite current.
// Completed is final. Cancelled only yields to completed, which a release on
// another payment of the same task can still reach. Nothing reopens a task.
func CanReplaceTaskStatus(current, next TaskStatus) bool {
	if current == next {
		return false
	}
	switch current {
	case TaskStatusCompleted:
		return false
	case TaskStatusCancelled:
		return next == TaskStatusCompleted
	default:
		return true
	}
}

const (
	EntityTypePayment   = "escrow_payment"
	EntityTypeMilestone = "milestone"
	EntityTypeTask      = "task"
)

// LedgerEntry is one row of the append-only audit trail. Corrections are new
// entries, never edits.
type LedgerEntry struct {
	EntryID    string
	EntityType string
	EntityID   string
	TaskID     string
	FromStatus string
	ToStatus   string
	Amount     int64
	OccurredAt time.Time
}

const (
	ReconciliationStatusPending   = "pending"
	ReconciliationStatusResolved  = "resolved"
	ReconciliationStatusAbandoned = "abandoned"
)

// ReconciliationItem records a task-status write that failed after the
// authoritative payment write succeeded.
type ReconciliationItem struct {
	ItemID      string
	TaskID      string
	PaymentID   string
	TargetState TaskStatus
	CompletedAt *time.Time
	Attempts    int
	LastError   string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
