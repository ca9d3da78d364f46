package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tachesure/escrow-service/internal/contracts"
)

// KafkaConsumer reads party verification and signal envelopes from the topics
// the identity and reputation services publish to. Offsets are committed only
// after the worker has handled a batch.
type KafkaConsumer struct {
	reader       *kafka.Reader
	eventByTopic map[string]string
}

// NewKafkaConsumer subscribes to every topic in eventByTopic, which maps a
// topic name to the canonical event type carried on it.
func NewKafkaConsumer(brokers []string, groupID string, eventByTopic map[string]string) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	topics := make([]string, 0, len(eventByTopic))
	for topic := range eventByTopic {
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one topic")
	}
	sort.Strings(topics)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     500 * time.Millisecond,
	})
	return &KafkaConsumer{reader: reader, eventByTopic: eventByTopic}, nil
}

// Poll fetches up to max messages, returning early once the reader has been
// idle for 250ms.
func (c *KafkaConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	out := make([]Message, 0, max)
	for i := 0; i < max; i++ {
		readCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		msg, err := c.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				return out, nil
			case errors.Is(err, context.Canceled):
				return out, ctx.Err()
			default:
				return out, err
			}
		}
		decoded := decodePartyMessage(msg, c.eventByTopic)
		decoded.raw = &msg
		out = append(out, decoded)
	}
	return out, nil
}

// Commit acknowledges a handled batch, skipped messages included.
func (c *KafkaConsumer) Commit(ctx context.Context, msgs []Message) error {
	raw := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.raw != nil {
			raw = append(raw, *m.raw)
		}
	}
	if len(raw) == 0 {
		return nil
	}
	return c.reader.CommitMessages(ctx, raw...)
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// decodePartyMessage resolves the event type from the topic and checks it
// against the envelope. The partition key of the envelope wins over the
// record key.
func decodePartyMessage(msg kafka.Message, eventByTopic map[string]string) Message {
	out := Message{
		Topic:     msg.Topic,
		EventType: eventByTopic[msg.Topic],
		Key:       string(msg.Key),
		Payload:   msg.Value,
	}
	var env contracts.EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		out.Err = fmt.Errorf("decode envelope: %w", err)
		return out
	}
	out.EventID = env.EventID
	if env.PartitionKey != "" {
		out.Key = env.PartitionKey
	}
	switch {
	case out.EventType == "":
		out.EventType = env.EventType
	case env.EventType != out.EventType:
		out.Err = fmt.Errorf("envelope type %q on topic %q expecting %q", env.EventType, msg.Topic, out.EventType)
	}
	return out
}
