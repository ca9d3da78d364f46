package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tachesure/escrow-service/internal/application"
	"github.com/tachesure/escrow-service/internal/contracts"
	"github.com/tachesure/escrow-service/internal/domain"
)

type fakeTrustCache struct {
	mu          sync.Mutex
	items       map[string]domain.PartyTrust
	invalidated []string
}

func newFakeTrustCache() *fakeTrustCache {
	return &fakeTrustCache{items: map[string]domain.PartyTrust{}}
}

func (c *fakeTrustCache) Get(_ context.Context, partyID string) (domain.PartyTrust, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[partyID]
	return item, ok, nil
}

func (c *fakeTrustCache) Set(_ context.Context, trust domain.PartyTrust, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[trust.PartyID] = trust
	return nil
}

func (c *fakeTrustCache) Invalidate(_ context.Context, partyIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range partyIDs {
		delete(c.items, id)
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

func newTrustService(t *testing.T, cache *fakeTrustCache, enforce bool) (*application.Service, *fixture) {
	t.Helper()
	f := newFixture(t)
	svc := application.NewService(application.Dependencies{
		Config:         application.Config{EnforceTrustGate: enforce, PersistenceRetryBackoff: time.Millisecond},
		Payments:       f.repos.Payments,
		Milestones:     f.repos.Milestones,
		Tasks:          f.repos.Tasks,
		Ledger:         f.repos.Ledger,
		Reconciliation: f.repos.Reconciliation,
		Signals:        f.repos.Signals,
		Outbox:         f.repos.Outbox,
		EventDedup:     f.repos.EventDedup,
		Idempotency:    f.repos.Idempotency,
		TrustCache:     cache,
	})
	return svc, f
}

func partyEvent(t *testing.T, eventID, eventType, partyID string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	payload, err := json.Marshal(contracts.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       time.Now().UTC(),
		PartitionKeyPath: "data.party_id",
		PartitionKey:     partyID,
		SourceService:    "identity-service",
		SchemaVersion:    "v1",
		Data:             raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func TestScoreTrustMatchesEngine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trust, err := f.service.ScoreTrust(domain.TrustScoreFactors{
		VerificationLevel:     domain.VerificationGovernment,
		CompletedTasksCount:   30,
		AverageRating:         4.6,
		ResponseTimeMinutes:   10,
		CancelledTasksCount:   2,
		TotalTasksCount:       40,
		CommunityEndorsements: 3,
		HasBackgroundCheck:    true,
	})
	if err != nil {
		t.Fatalf("ScoreTrust: %v", err)
	}
	if trust.Score != 81 || trust.Level != domain.TrustLevelGood {
		t.Fatalf("expected 81/good, got %d/%s", trust.Score, trust.Level)
	}
	if _, err := f.service.ScoreTrust(domain.TrustScoreFactors{CompletedTasksCount: -1}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative counts, got %v", err)
	}
}

func TestPartySignalsFeedPartyTrust(t *testing.T) {
	t.Parallel()

	cache := newFakeTrustCache()
	svc, _ := newTrustService(t, cache, false)
	ctx := context.Background()

	before, err := svc.GetPartyTrust(ctx, "worker-9")
	if err != nil {
		t.Fatalf("GetPartyTrust: %v", err)
	}
	if before.Score != 12 || before.Level != domain.TrustLevelPoor {
		t.Fatalf("expected unknown party to score 12/poor, got %d/%s", before.Score, before.Level)
	}

	if err := svc.HandlePartySignalEvent(ctx, partyEvent(t, "evt-1", domain.EventPartyVerificationUpdated, "worker-9",
		contracts.PartyVerificationUpdatedPayload{PartyID: "worker-9", VerificationLevel: "community"})); err != nil {
		t.Fatalf("verification event: %v", err)
	}
	rating, minutes, endorsements, background := 5.0, 3.0, 12, true
	if err := svc.HandlePartySignalEvent(ctx, partyEvent(t, "evt-2", domain.EventPartySignalsUpdated, "worker-9",
		contracts.PartySignalsUpdatedPayload{PartyID: "worker-9", AverageRating: &rating, ResponseTimeMinutes: &minutes, CommunityEndorsements: &endorsements, HasBackgroundCheck: &background})); err != nil {
		t.Fatalf("signals event: %v", err)
	}
	if len(cache.invalidated) != 2 {
		t.Fatalf("expected cache invalidated per event, got %v", cache.invalidated)
	}

	after, err := svc.GetPartyTrust(ctx, "worker-9")
	if err != nil {
		t.Fatalf("GetPartyTrust: %v", err)
	}
	// No completed tasks yet: everything but the completed-tasks component.
	if after.Score != 80 || after.Level != domain.TrustLevelGood {
		t.Fatalf("expected 80/good, got %d/%s", after.Score, after.Level)
	}
	if cached, ok, _ := cache.Get(ctx, "worker-9"); !ok || cached.Score != after.Score {
		t.Fatalf("expected trust cached after read")
	}
}

func TestPartySignalEventDedupAndValidation(t *testing.T) {
	t.Parallel()

	svc, f := newTrustService(t, newFakeTrustCache(), false)
	ctx := context.Background()
	evt := partyEvent(t, "evt-dup", domain.EventPartyVerificationUpdated, "p-1",
		contracts.PartyVerificationUpdatedPayload{PartyID: "p-1", VerificationLevel: "basic"})

	if err := svc.HandlePartySignalEvent(ctx, evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.repos.Signals.Upsert(ctx, domain.PartySignals{PartyID: "p-1", VerificationLevel: domain.VerificationEnhanced}); err != nil {
		t.Fatalf("seed signals: %v", err)
	}
	if err := svc.HandlePartySignalEvent(ctx, evt); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	stored, _ := f.repos.Signals.Get(ctx, "p-1")
	if stored.VerificationLevel != domain.VerificationEnhanced {
		t.Fatalf("duplicate event must not be applied again, got %s", stored.VerificationLevel)
	}

	bad := partyEvent(t, "evt-bad", domain.EventPartyVerificationUpdated, "p-1",
		contracts.PartyVerificationUpdatedPayload{PartyID: "p-1", VerificationLevel: "platinum"})
	if err := svc.HandlePartySignalEvent(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown level, got %v", err)
	}
	wrongKey := partyEvent(t, "evt-key", domain.EventPartyVerificationUpdated, "p-2",
		contracts.PartyVerificationUpdatedPayload{PartyID: "p-1", VerificationLevel: "basic"})
	if err := svc.HandlePartySignalEvent(ctx, wrongKey); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for mismatched partition key, got %v", err)
	}
}

func TestPayeeSettlementsInvalidateAndFeedTrust(t *testing.T) {
	t.Parallel()

	cache := newFakeTrustCache()
	svc, f := newTrustService(t, cache, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		task := fmt.Sprintf("task-settled-%d", i)
		f.repos.Tasks.PutTask(task, domain.TaskStatusOpen)
		p, err := svc.CreateEscrowPayment(ctx, application.Actor{}, application.CreateEscrowPaymentInput{
			TaskID: task, PayerID: "client-1", PayeeID: "worker-1", Amount: 100, PaymentMethod: "cash",
		})
		if err != nil {
			t.Fatalf("CreateEscrowPayment: %v", err)
		}
		if _, err := svc.ReleaseEscrowPayment(ctx, application.Actor{}, application.ReleaseEscrowInput{PaymentID: p.ID}); err != nil {
			t.Fatalf("ReleaseEscrowPayment: %v", err)
		}
	}
	trust, err := svc.GetPartyTrust(ctx, "worker-1")
	if err != nil {
		t.Fatalf("GetPartyTrust: %v", err)
	}
	if trust.Factors.CompletedTasksCount != 5 || trust.Factors.TotalTasksCount != 5 || trust.Factors.CancelledTasksCount != 0 {
		t.Fatalf("unexpected ledger-derived counts: %+v", trust.Factors)
	}
	if len(cache.invalidated) != 5 {
		t.Fatalf("expected payee invalidated on each settlement, got %d", len(cache.invalidated))
	}
}

func TestPartyOutcomesCountTasksNotPayments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	for _, m := range f.createMilestones(t, 1000, 2000, 3000) {
		f.fund(t, m)
		if _, err := f.service.ReleaseMilestone(ctx, application.Actor{}, m.ID); err != nil {
			t.Fatalf("ReleaseMilestone: %v", err)
		}
	}

	f.repos.Tasks.PutTask("task-2", domain.TaskStatusOpen)
	p, err := f.service.CreateEscrowPayment(ctx, application.Actor{}, application.CreateEscrowPaymentInput{
		TaskID: "task-2", PayerID: "client-1", PayeeID: "worker-1", Amount: 500, PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("CreateEscrowPayment: %v", err)
	}
	if _, err := f.service.RefundEscrowPayment(ctx, application.Actor{}, application.RefundEscrowInput{
		PaymentID: p.ID, TaskID: "task-2", Reason: "client withdrew",
	}); err != nil {
		t.Fatalf("RefundEscrowPayment: %v", err)
	}

	refunded := int64(700)
	lost := domain.EscrowPayment{
		ID: "pay-lost-race", TaskID: "task-3", PayerID: "client-2", PayeeID: "worker-1",
		Amount: 700, NetAmount: 700, PaymentMethod: domain.PaymentMethodCash,
		Status: domain.PaymentStatusRefunded, RefundAmount: &refunded,
		RefundReason: domain.RefundReasonSupersededFunding,
		Metadata:     domain.MilestoneEscrowMetadata("ms-lost"),
	}
	if err := f.repos.Payments.Upsert(ctx, lost); err != nil {
		t.Fatalf("seed superseded payment: %v", err)
	}

	trust, err := f.service.GetPartyTrust(ctx, "worker-1")
	if err != nil {
		t.Fatalf("GetPartyTrust: %v", err)
	}
	got := trust.Factors
	if got.CompletedTasksCount != 1 || got.CancelledTasksCount != 1 || got.TotalTasksCount != 2 {
		t.Fatalf("expected completed=1 cancelled=1 total=2, got completed=%d cancelled=%d total=%d",
			got.CompletedTasksCount, got.CancelledTasksCount, got.TotalTasksCount)
	}
}

func TestTrustGateRejectsLowTrustCryptoPayer(t *testing.T) {
	t.Parallel()

	svc, _ := newTrustService(t, newFakeTrustCache(), true)
	ctx := context.Background()

	_, err := svc.CreateEscrowPayment(ctx, application.Actor{}, application.CreateEscrowPaymentInput{
		TaskID: taskID, PayerID: "client-1", PayeeID: "worker-1", Amount: 100, PaymentMethod: "crypto",
	})
	if !errors.Is(err, domain.ErrTrustGateRejected) || !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrTrustGateRejected, got %v", err)
	}
	if _, err := svc.CreateEscrowPayment(ctx, application.Actor{}, application.CreateEscrowPaymentInput{
		TaskID: taskID, PayerID: "client-1", PayeeID: "worker-1", Amount: 100, PaymentMethod: "wave",
	}); err != nil {
		t.Fatalf("mobile money must not be gated: %v", err)
	}

	eligibility, err := svc.EvaluatePaymentEligibility(ctx, "client-1", "bank_transfer")
	if err != nil {
		t.Fatalf("EvaluatePaymentEligibility: %v", err)
	}
	if eligibility.Allowed || eligibility.RequiredLevel != domain.TrustLevelFair || eligibility.Level != domain.TrustLevelPoor {
		t.Fatalf("unexpected eligibility: %+v", eligibility)
	}
	if _, err := svc.EvaluatePaymentEligibility(ctx, "client-1", "paypal"); !errors.Is(err, domain.ErrUnsupportedPaymentMethod) {
		t.Fatalf("expected ErrUnsupportedPaymentMethod, got %v", err)
	}
}
