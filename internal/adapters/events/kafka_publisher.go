package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tachesure/escrow-service/internal/contracts"
	"github.com/tachesure/escrow-service/internal/domain"
)

// KafkaPublisher writes escrow status envelopes keyed by the envelope's
// partition key, so every event for one payment, milestone or task lands on
// the same partition in order.
type KafkaPublisher struct {
	writer       *kafka.Writer
	topicByEvent map[string]string
	nowFn        func() time.Time
}

func NewKafkaPublisher(brokers []string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	for _, eventType := range []string{domain.EventPaymentStatusChanged, domain.EventMilestoneStatusChanged, domain.EventTaskStatusChanged} {
		if topicByEvent[eventType] == "" {
			return nil, fmt.Errorf("kafka publisher has no topic for %s", eventType)
		}
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
		topicByEvent: topicByEvent,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	msg, err := buildStatusMessage(p.topicByEvent, eventType, payload, partitionKey, p.nowFn())
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// buildStatusMessage only accepts the events this service emits. Envelope
// metadata is copied into headers so consumers can route without decoding.
func buildStatusMessage(topicByEvent map[string]string, eventType string, payload []byte, fallbackKey string, now time.Time) (kafka.Message, error) {
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return kafka.Message{}, fmt.Errorf("kafka publisher: %s is not an escrow event", eventType)
	}
	topic := topicByEvent[eventType]
	if topic == "" {
		return kafka.Message{}, fmt.Errorf("kafka publisher: no topic for %s", eventType)
	}
	var env contracts.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return kafka.Message{}, fmt.Errorf("kafka publisher: decode envelope: %w", err)
	}
	if env.EventType != eventType {
		return kafka.Message{}, fmt.Errorf("kafka publisher: envelope type %q does not match %q", env.EventType, eventType)
	}
	key := env.PartitionKey
	if key == "" {
		key = fallbackKey
	}
	if key == "" {
		return kafka.Message{}, fmt.Errorf("kafka publisher: %s event %s has no partition key", eventType, env.EventID)
	}
	at := env.OccurredAt
	if at.IsZero() {
		at = now
	}
	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(eventType)},
		{Key: "event_id", Value: []byte(env.EventID)},
	}
	for _, h := range []struct{ key, value string }{
		{"schema_version", env.SchemaVersion},
		{"source_service", env.SourceService},
		{"trace_id", env.TraceID},
	} {
		if h.value != "" {
			headers = append(headers, kafka.Header{Key: h.key, Value: []byte(h.value)})
		}
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   payload,
		Time:    at.UTC(),
		Headers: headers,
	}, nil
}
