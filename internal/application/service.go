package application

import (
	"log/slog"
	"time"

	"github.com/tachesure/escrow-service/internal/ports"
)

// Service hosts the escrow payment manager, the milestone manager and the
// trust operations. It keeps no mutable state of its own: every read and
// write goes through the injected ledger store ports.
type Service struct {
	cfg            Config
	payments       ports.PaymentRepository
	milestones     ports.MilestoneRepository
	tasks          ports.TaskRepository
	ledger         ports.LedgerRepository
	reconciliation ports.ReconciliationRepository
	signals        ports.PartySignalRepository
	outbox         ports.OutboxRepository
	eventDedup     ports.EventDedupRepository
	idempotency    ports.IdempotencyRepository
	trustCache     ports.TrustScoreCache
	logger         *slog.Logger
	nowFn          func() time.Time
}

type Dependencies struct {
	Config         Config
	Payments       ports.PaymentRepository
	Milestones     ports.MilestoneRepository
	Tasks          ports.TaskRepository
	Ledger         ports.LedgerRepository
	Reconciliation ports.ReconciliationRepository
	Signals        ports.PartySignalRepository
	Outbox         ports.OutboxRepository
	EventDedup     ports.EventDedupRepository
	Idempotency    ports.IdempotencyRepository
	TrustCache     ports.TrustScoreCache
	Logger         *slog.Logger
	Clock          func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "escrow-service"
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.PersistenceRetryAttempts <= 0 {
		cfg.PersistenceRetryAttempts = 3
	}
	if cfg.PersistenceRetryBackoff <= 0 {
		cfg.PersistenceRetryBackoff = 100 * time.Millisecond
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.TrustCacheTTL <= 0 {
		cfg.TrustCacheTTL = 10 * time.Minute
	}
	if cfg.ReconciliationMaxAttempts <= 0 {
		cfg.ReconciliationMaxAttempts = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	// postgres keeps microseconds; truncating keeps CAS comparisons exact.
	nowFn := func() time.Time { return clock().UTC().Truncate(time.Microsecond) }

	return &Service{
		cfg:            cfg,
		payments:       deps.Payments,
		milestones:     deps.Milestones,
		tasks:          deps.Tasks,
		ledger:         deps.Ledger,
		reconciliation: deps.Reconciliation,
		signals:        deps.Signals,
		outbox:         deps.Outbox,
		eventDedup:     deps.EventDedup,
		idempotency:    deps.Idempotency,
		trustCache:     deps.TrustCache,
		logger:         logger.With("module", "application", "layer", "service"),
		nowFn:          nowFn,
	}
}
