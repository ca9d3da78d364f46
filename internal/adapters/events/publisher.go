package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tachesure/escrow-service/internal/contracts"
)

// LoggingPublisher stands in for the broker when no Kafka brokers are
// configured. It logs the status transition each envelope carries.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	attrs := []any{
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "success",
		"event_type", eventType,
		"partition_key", partitionKey,
	}
	var env contracts.EventEnvelope
	var data contracts.StatusChangedPayload
	if err := json.Unmarshal(payload, &env); err == nil && json.Unmarshal(env.Data, &data) == nil {
		attrs = append(attrs,
			"event_id", env.EventID,
			"entity_type", data.EntityType,
			"entity_id", data.EntityID,
			"task_id", data.TaskID,
			"from_status", data.FromStatus,
			"to_status", data.ToStatus,
		)
	} else {
		attrs = append(attrs, "payload_bytes", len(payload))
	}
	p.logger.InfoContext(ctx, "escrow event published", attrs...)
	return nil
}
