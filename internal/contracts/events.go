package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

// StatusChangedPayload is emitted for every successful state transition of a
// payment, milestone or task.
type StatusChangedPayload struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	TaskID     string `json:"task_id,omitempty"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Amount     int64  `json:"amount,omitempty"`
	Timestamp  string `json:"timestamp"`
}

type PartyVerificationUpdatedPayload struct {
	PartyID           string `json:"party_id"`
	VerificationLevel string `json:"verification_level"`
}

type PartySignalsUpdatedPayload struct {
	PartyID               string   `json:"party_id"`
	AverageRating         *float64 `json:"average_rating,omitempty"`
	ResponseTimeMinutes   *float64 `json:"response_time_minutes,omitempty"`
	CommunityEndorsements *int     `json:"community_endorsements,omitempty"`
	HasBackgroundCheck    *bool    `json:"has_background_check,omitempty"`
}
