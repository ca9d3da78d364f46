package postgres

import (
	"github.com/tachesure/escrow-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Payments       ports.PaymentRepository
	Milestones     ports.MilestoneRepository
	Tasks          ports.TaskRepository
	Ledger         ports.LedgerRepository
	Reconciliation ports.ReconciliationRepository
	Signals        ports.PartySignalRepository
	Outbox         ports.OutboxRepository
	EventDedup     ports.EventDedupRepository
	Idempotency    ports.IdempotencyRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Payments:       &paymentRepository{db: db},
		Milestones:     &milestoneRepository{db: db},
		Tasks:          &taskRepository{db: db},
		Ledger:         &ledgerRepository{db: db},
		Reconciliation: &reconciliationRepository{db: db},
		Signals:        &partySignalRepository{db: db},
		Outbox:         &outboxRepository{db: db},
		EventDedup:     &eventDedupRepository{db: db},
		Idempotency:    &idempotencyRepository{db: db},
	}
}
