package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tachesure/escrow-service/internal/application"
	"github.com/tachesure/escrow-service/internal/domain"
)

// Message is one consumed party event. EventType is resolved from the topic;
// Err is set when the record could not be matched to a party envelope.
type Message struct {
	Topic     string
	EventType string
	EventID   string
	Key       string
	Payload   []byte
	Err       error

	raw *kafka.Message
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
}

// committer is implemented by consumers that acknowledge explicitly.
type committer interface {
	Commit(ctx context.Context, msgs []Message) error
}

// ConsumerWorker feeds party verification and signal updates into the trust
// engine.
type ConsumerWorker struct {
	logger   *slog.Logger
	consumer Consumer
	service  *application.Service
	interval time.Duration
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, service *application.Service, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, service: service, interval: interval,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce handles one polled batch and returns how many messages were
// applied. Malformed messages are logged and skipped.
func (w *ConsumerWorker) ProcessOnce(ctx context.Context) (int, error) {
	msgs, err := w.consumer.Poll(ctx, 50)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, msg := range msgs {
		if msg.Err != nil {
			w.logger.WarnContext(ctx, "skipping malformed party event",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "decode_party_event",
				"outcome", "skipped",
				"topic", msg.Topic,
				"error", msg.Err,
			)
			continue
		}
		switch msg.EventType {
		case domain.EventPartyVerificationUpdated, domain.EventPartySignalsUpdated:
			if err := w.service.HandlePartySignalEvent(ctx, msg.Payload); err != nil {
				w.logger.WarnContext(ctx, "failed to handle party event",
					"module", "events.consumer_worker",
					"layer", "adapter",
					"operation", "handle_party_event",
					"outcome", "failure",
					"topic", msg.Topic,
					"event_type", msg.EventType,
					"event_id", msg.EventID,
					"party_id", msg.Key,
					"error", err,
				)
				continue
			}
			applied++
		default:
			w.logger.DebugContext(ctx, "ignoring unexpected event", "topic", msg.Topic, "event_type", msg.EventType)
		}
	}
	if c, ok := w.consumer.(committer); ok && len(msgs) > 0 {
		if err := c.Commit(ctx, msgs); err != nil {
			return applied, err
		}
	}
	return applied, nil
}
