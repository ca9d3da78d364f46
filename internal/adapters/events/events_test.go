package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tachesure/escrow-service/internal/adapters/memory"
	"github.com/tachesure/escrow-service/internal/application"
	"github.com/tachesure/escrow-service/internal/contracts"
	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	failOn map[string]bool
	sent   []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[partitionKey] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, eventType+"/"+partitionKey)
	return nil
}

func TestOutboxWorkerPublishesAndRecordsFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repos := memory.NewRepositories()
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		err := repos.Outbox.Enqueue(ctx, ports.OutboxEvent{
			EventID:      id,
			EventType:    domain.EventPaymentStatusChanged,
			PartitionKey: "pay-" + id,
			Payload:      []byte(`{}`),
			OccurredAt:   time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	pub := &recordingPublisher{failOn: map[string]bool{"pay-evt-2": true}}
	w := NewOutboxWorker(discardLogger(), repos.Outbox, pub, time.Millisecond, 10)

	sent, err := w.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected 2 published, got %d", sent)
	}
	for _, rec := range repos.Outbox.Records() {
		switch rec.OutboxID {
		case "evt-2":
			if rec.PublishedAt != nil || rec.RetryCount != 1 || rec.LastError == nil {
				t.Fatalf("failed record not marked: %+v", rec)
			}
		default:
			if rec.PublishedAt == nil {
				t.Fatalf("record %s not marked published", rec.OutboxID)
			}
		}
	}

	pub.mu.Lock()
	pub.failOn = nil
	pub.mu.Unlock()
	sent, err = w.ProcessOnce(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("retry pass: sent=%d err=%v", sent, err)
	}
	if sent, _ = w.ProcessOnce(ctx); sent != 0 {
		t.Fatalf("expected nothing left to publish, got %d", sent)
	}
}

type sliceConsumer struct {
	msgs      []Message
	committed int
}

func (c *sliceConsumer) Commit(_ context.Context, msgs []Message) error {
	c.committed += len(msgs)
	return nil
}

func (c *sliceConsumer) Poll(_ context.Context, max int) ([]Message, error) {
	if len(c.msgs) < max {
		max = len(c.msgs)
	}
	out := c.msgs[:max]
	c.msgs = c.msgs[max:]
	return out, nil
}

func partyMessage(t *testing.T, eventID, eventType, partyID string, data any) Message {
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
	return Message{Topic: "identity." + eventType, EventType: eventType, EventID: eventID, Key: partyID, Payload: payload}
}

func newService(repos *memory.Repositories) *application.Service {
	return application.NewService(application.Dependencies{
		Config:         application.Config{PersistenceRetryBackoff: time.Millisecond},
		Payments:       repos.Payments,
		Milestones:     repos.Milestones,
		Tasks:          repos.Tasks,
		Ledger:         repos.Ledger,
		Reconciliation: repos.Reconciliation,
		Signals:        repos.Signals,
		Outbox:         repos.Outbox,
		EventDedup:     repos.EventDedup,
		Idempotency:    repos.Idempotency,
		Logger:         discardLogger(),
	})
}

func TestConsumerWorkerRoutesPartyEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repos := memory.NewRepositories()
	svc := newService(repos)
	rating := 4.5
	consumer := &sliceConsumer{msgs: []Message{
		partyMessage(t, "e-1", domain.EventPartyVerificationUpdated, "party-7",
			contracts.PartyVerificationUpdatedPayload{PartyID: "party-7", VerificationLevel: "government"}),
		partyMessage(t, "e-2", domain.EventPartySignalsUpdated, "party-7",
			contracts.PartySignalsUpdatedPayload{PartyID: "party-7", AverageRating: &rating}),
		partyMessage(t, "e-1", domain.EventPartyVerificationUpdated, "party-7",
			contracts.PartyVerificationUpdatedPayload{PartyID: "party-7", VerificationLevel: "basic"}),
		partyMessage(t, "e-3", domain.EventPartyVerificationUpdated, "party-7",
			contracts.PartyVerificationUpdatedPayload{PartyID: "party-7", VerificationLevel: "platinum"}),
		{Topic: "user.registered", EventType: "user.registered", Payload: []byte(`{}`)},
		{Topic: "identity.party.signals_updated", Err: errors.New("decode envelope: unexpected end of JSON input")},
	}}
	w := NewConsumerWorker(discardLogger(), consumer, svc, time.Millisecond)

	applied, err := w.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	// The duplicate is acknowledged without error; the bad level is skipped.
	if applied != 3 {
		t.Fatalf("expected 3 applied messages, got %d", applied)
	}
	if consumer.committed != 6 {
		t.Fatalf("expected the whole batch committed, got %d", consumer.committed)
	}
	signals, err := repos.Signals.Get(ctx, "party-7")
	if err != nil {
		t.Fatalf("get signals: %v", err)
	}
	if signals.VerificationLevel != domain.VerificationGovernment {
		t.Fatalf("verification level = %s, duplicate must not be reapplied", signals.VerificationLevel)
	}
	if signals.AverageRating != 4.5 {
		t.Fatalf("average rating = %v", signals.AverageRating)
	}
}

func TestReconciliationWorkerResolvesPendingItems(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories()
	repos.Tasks.PutTask("task-9", domain.TaskStatusInProgress)
	now := time.Now().UTC()
	err := repos.Reconciliation.Enqueue(context.Background(), domain.ReconciliationItem{
		ItemID:      "rec-1",
		TaskID:      "task-9",
		PaymentID:   "pay-1",
		TargetState: domain.TaskStatusCompleted,
		CompletedAt: &now,
		Status:      domain.ReconciliationStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewReconciliationWorker(discardLogger(), newService(repos), time.Millisecond, 10)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		item, ok := repos.Reconciliation.Get("rec-1")
		if ok && item.Status == domain.ReconciliationStatusResolved {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("item not resolved: %+v", item)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
	task, _ := repos.Tasks.Get("task-9")
	if task.Status != domain.TaskStatusCompleted {
		t.Fatalf("task status = %s", task.Status)
	}
}
