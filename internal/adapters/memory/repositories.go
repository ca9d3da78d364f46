package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
)

// Repositories is the in-process Ledger Store. Each repository serialises its
// own writes with a mutex; transitions are compare-and-swap on status.
type Repositories struct {
	Payments       *PaymentRepository
	Milestones     *MilestoneRepository
	Tasks          *TaskRepository
	Ledger         *LedgerRepository
	Reconciliation *ReconciliationRepository
	Signals        *PartySignalRepository
	Outbox         *OutboxRepository
	EventDedup     *EventDedupRepository
	Idempotency    *IdempotencyRepository
}

func NewRepositories() *Repositories {
	return &Repositories{
		Payments:       &PaymentRepository{rows: map[string]domain.EscrowPayment{}},
		Milestones:     &MilestoneRepository{rows: map[string]domain.Milestone{}},
		Tasks:          &TaskRepository{rows: map[string]TaskRecord{}},
		Ledger:         &LedgerRepository{},
		Reconciliation: &ReconciliationRepository{rows: map[string]domain.ReconciliationItem{}},
		Signals:        &PartySignalRepository{rows: map[string]domain.PartySignals{}},
		Outbox:         &OutboxRepository{rows: map[string]ports.OutboxRecord{}},
		EventDedup:     &EventDedupRepository{rows: map[string]eventDedupRow{}},
		Idempotency:    &IdempotencyRepository{rows: map[string]ports.IdempotencyRecord{}},
	}
}

type PaymentRepository struct {
	mu    sync.Mutex
	rows  map[string]domain.EscrowPayment
	order []string
}

func (r *PaymentRepository) Upsert(_ context.Context, payment domain.EscrowPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[payment.ID]; !ok {
		r.order = append(r.order, payment.ID)
	}
	r.rows[payment.ID] = clonePayment(payment)
	return nil
}

func (r *PaymentRepository) GetByID(_ context.Context, paymentID string) (domain.EscrowPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[strings.TrimSpace(paymentID)]
	if !ok {
		return domain.EscrowPayment{}, domain.ErrNotFound
	}
	return clonePayment(row), nil
}

func (r *PaymentRepository) Transition(_ context.Context, next domain.EscrowPayment, from domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[next.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if row.Status != from || row.EscrowReleased {
		return domain.ErrStaleState
	}
	r.rows[next.ID] = clonePayment(next)
	return nil
}

func (r *PaymentRepository) ListByTask(_ context.Context, taskID string) ([]domain.EscrowPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EscrowPayment, 0)
	for _, id := range r.order {
		if row := r.rows[id]; row.TaskID == taskID {
			out = append(out, clonePayment(row))
		}
	}
	return out, nil
}

func (r *PaymentRepository) OutcomeCountsForPayee(_ context.Context, payeeID string) (domain.PartyOutcomes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byTask := map[string]*domain.TaskSettlement{}
	var tasks []*domain.TaskSettlement
	for _, id := range r.order {
		row := r.rows[id]
		if row.PayeeID != payeeID || !row.CountsTowardOutcomes() {
			continue
		}
		t, ok := byTask[row.TaskID]
		if !ok {
			t = &domain.TaskSettlement{TaskID: row.TaskID}
			byTask[row.TaskID] = t
			tasks = append(tasks, t)
		}
		t.Released = t.Released || row.EscrowReleased
		t.Refunded = t.Refunded || row.Status == domain.PaymentStatusRefunded
	}
	settlements := make([]domain.TaskSettlement, 0, len(tasks))
	for _, t := range tasks {
		settlements = append(settlements, *t)
	}
	return domain.CountPartyOutcomes(settlements), nil
}

func clonePayment(p domain.EscrowPayment) domain.EscrowPayment {
	if p.EscrowReleasedAt != nil {
		at := *p.EscrowReleasedAt
		p.EscrowReleasedAt = &at
	}
	if p.RefundAmount != nil {
		amount := *p.RefundAmount
		p.RefundAmount = &amount
	}
	return p
}

type MilestoneRepository struct {
	mu   sync.Mutex
	rows map[string]domain.Milestone
}

func (r *MilestoneRepository) CreateBatch(_ context.Context, milestones []domain.Milestone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range milestones {
		if _, ok := r.rows[m.ID]; ok {
			return domain.ErrConflict
		}
	}
	for _, m := range milestones {
		r.rows[m.ID] = cloneMilestone(m)
	}
	return nil
}

func (r *MilestoneRepository) GetByID(_ context.Context, milestoneID string) (domain.Milestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[strings.TrimSpace(milestoneID)]
	if !ok {
		return domain.Milestone{}, domain.ErrNotFound
	}
	return cloneMilestone(row), nil
}

func (r *MilestoneRepository) GetByPaymentID(_ context.Context, paymentID string) (domain.Milestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.PaymentID != nil && *row.PaymentID == paymentID {
			return cloneMilestone(row), nil
		}
	}
	return domain.Milestone{}, domain.ErrNotFound
}

func (r *MilestoneRepository) Transition(_ context.Context, next domain.Milestone, from domain.MilestoneStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[next.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if row.Status != from {
		return domain.ErrStaleState
	}
	r.rows[next.ID] = cloneMilestone(next)
	return nil
}

func (r *MilestoneRepository) ListByTask(_ context.Context, taskID string) ([]domain.Milestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Milestone, 0)
	for _, row := range r.rows {
		if row.TaskID == taskID {
			out = append(out, cloneMilestone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneMilestone(m domain.Milestone) domain.Milestone {
	if m.PaymentID != nil {
		id := *m.PaymentID
		m.PaymentID = &id
	}
	if m.CompletedAt != nil {
		at := *m.CompletedAt
		m.CompletedAt = &at
	}
	if m.DueDate != nil {
		due := *m.DueDate
		m.DueDate = &due
	}
	return m
}

// TaskRecord is the slice of a task row escrow owns.
type TaskRecord struct {
	Status      domain.TaskStatus
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

type TaskRepository struct {
	mu         sync.Mutex
	rows       map[string]TaskRecord
	autoCreate bool
}

// AutoCreate makes UpdateStatus treat an unknown task as open. Local runs use
// it when no task service shares the store.
func (r *TaskRepository) AutoCreate(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoCreate = enabled
}

// PutTask seeds a task owned by another service.
func (r *TaskRepository) PutTask(taskID string, status domain.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[taskID] = TaskRecord{Status: status}
}

func (r *TaskRepository) Get(taskID string) (TaskRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[taskID]
	return row, ok
}

func (r *TaskRepository) UpdateStatus(_ context.Context, update domain.TaskStatusUpdate) (domain.TaskStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[update.TaskID]
	if !ok {
		if !r.autoCreate {
			return "", false, domain.ErrNotFound
		}
		row = TaskRecord{Status: domain.TaskStatusOpen}
	}
	previous := row.Status
	if !domain.CanReplaceTaskStatus(previous, update.Status) {
		return previous, false, nil
	}
	row.Status = update.Status
	row.UpdatedAt = update.UpdatedAt
	if update.CompletedAt != nil {
		at := *update.CompletedAt
		row.CompletedAt = &at
	}
	r.rows[update.TaskID] = row
	return previous, true, nil
}

type LedgerRepository struct {
	mu   sync.Mutex
	rows []domain.LedgerEntry
}

func (r *LedgerRepository) Append(_ context.Context, entry domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, entry)
	return nil
}

func (r *LedgerRepository) ListByTask(_ context.Context, taskID string) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.LedgerEntry, 0)
	for _, row := range r.rows {
		if row.TaskID == taskID {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

type ReconciliationRepository struct {
	mu    sync.Mutex
	rows  map[string]domain.ReconciliationItem
	order []string
}

func (r *ReconciliationRepository) Enqueue(_ context.Context, item domain.ReconciliationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[item.ItemID]; ok {
		return domain.ErrConflict
	}
	r.rows[item.ItemID] = item
	r.order = append(r.order, item.ItemID)
	return nil
}

func (r *ReconciliationRepository) ListPending(_ context.Context, limit int) ([]domain.ReconciliationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]domain.ReconciliationItem, 0, limit)
	for _, id := range r.order {
		row := r.rows[id]
		if row.Status != domain.ReconciliationStatusPending {
			continue
		}
		out = append(out, row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *ReconciliationRepository) Get(itemID string) (domain.ReconciliationItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[itemID]
	return row, ok
}

func (r *ReconciliationRepository) MarkResolved(_ context.Context, itemID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	row.Status = domain.ReconciliationStatusResolved
	row.UpdatedAt = at
	r.rows[itemID] = row
	return nil
}

func (r *ReconciliationRepository) MarkAttemptFailed(_ context.Context, itemID, errMsg string, abandon bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	row.Attempts++
	row.LastError = errMsg
	row.UpdatedAt = at
	if abandon {
		row.Status = domain.ReconciliationStatusAbandoned
	}
	r.rows[itemID] = row
	return nil
}

type PartySignalRepository struct {
	mu   sync.Mutex
	rows map[string]domain.PartySignals
}

func (r *PartySignalRepository) Get(_ context.Context, partyID string) (domain.PartySignals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[partyID]
	if !ok {
		return domain.PartySignals{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *PartySignalRepository) Upsert(_ context.Context, signals domain.PartySignals) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[signals.PartyID] = signals
	return nil
}

type OutboxRepository struct {
	mu    sync.Mutex
	rows  map[string]ports.OutboxRecord
	order []string
}

func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[event.EventID]; ok {
		return domain.ErrConflict
	}
	r.rows[event.EventID] = ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		FirstSeenAt:  event.OccurredAt,
	}
	r.order = append(r.order, event.EventID)
	return nil
}

func (r *OutboxRepository) FetchUnpublished(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.order {
		row := r.rows[id]
		if row.PublishedAt != nil {
			continue
		}
		out = append(out, row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	row.PublishedAt = &at
	r.rows[outboxID] = row
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID string, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	row.RetryCount++
	row.LastError = &errMsg
	row.LastErrorAt = &at
	r.rows[outboxID] = row
	return nil
}

// Records returns every outbox row in enqueue order.
func (r *OutboxRepository) Records() []ports.OutboxRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rows[id])
	}
	return out
}

type eventDedupRow struct {
	EventType string
	ExpiresAt time.Time
}

type EventDedupRepository struct {
	mu   sync.Mutex
	rows map[string]eventDedupRow
}

func (r *EventDedupRepository) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[eventID]
	if !ok {
		return false, nil
	}
	if now.After(row.ExpiresAt) {
		delete(r.rows, eventID)
		return false, nil
	}
	return true, nil
}

func (r *EventDedupRepository) MarkProcessed(_ context.Context, eventID, eventType string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[eventID] = eventDedupRow{EventType: eventType, ExpiresAt: expiresAt}
	return nil
}

type IdempotencyRepository struct {
	mu   sync.Mutex
	rows map[string]ports.IdempotencyRecord
}

func (r *IdempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return nil, nil
	}
	if now.After(row.ExpiresAt) {
		delete(r.rows, key)
		return nil, nil
	}
	c := row
	c.ResponseBody = append([]byte(nil), row.ResponseBody...)
	return &c, nil
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[key]; ok {
		return domain.ErrConflict
	}
	r.rows[key] = ports.IdempotencyRecord{Key: key, RequestHash: requestHash, Status: "pending", ExpiresAt: expiresAt}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return domain.ErrNotFound
	}
	row.Status = "completed"
	row.ResponseCode = responseCode
	row.ResponseBody = append([]byte(nil), responseBody...)
	r.rows[key] = row
	return nil
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, key)
	return nil
}
