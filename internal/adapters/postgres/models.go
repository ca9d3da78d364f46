package postgres

import "time"

type taskModel struct {
	TaskID      string     `gorm:"column:task_id;primaryKey"`
	Status      string     `gorm:"column:status"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (taskModel) TableName() string { return "tasks" }

type escrowPaymentModel struct {
	PaymentID        string     `gorm:"column:payment_id;primaryKey"`
	TaskID           string     `gorm:"column:task_id"`
	PayerID          string     `gorm:"column:payer_id"`
	PayeeID          string     `gorm:"column:payee_id"`
	Amount           int64      `gorm:"column:amount"`
	FeeAmount        int64      `gorm:"column:fee_amount"`
	NetAmount        int64      `gorm:"column:net_amount"`
	PaymentMethod    string     `gorm:"column:payment_method"`
	Status           string     `gorm:"column:status"`
	EscrowReleased   bool       `gorm:"column:escrow_released"`
	EscrowReleasedAt *time.Time `gorm:"column:escrow_released_at"`
	RefundAmount     *int64     `gorm:"column:refund_amount"`
	RefundReason     string     `gorm:"column:refund_reason"`
	StatusReason     string     `gorm:"column:status_reason"`
	Metadata         string     `gorm:"column:metadata;type:jsonb"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (escrowPaymentModel) TableName() string { return "escrow_payments" }

type milestoneModel struct {
	MilestoneID string     `gorm:"column:milestone_id;primaryKey"`
	TaskID      string     `gorm:"column:task_id"`
	Title       string     `gorm:"column:title"`
	Description string     `gorm:"column:description"`
	Amount      int64      `gorm:"column:amount"`
	DueDate     *time.Time `gorm:"column:due_date"`
	PaymentID   *string    `gorm:"column:payment_id"`
	Status      string     `gorm:"column:status"`
	Position    int        `gorm:"column:position"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (milestoneModel) TableName() string { return "milestones" }

type ledgerEntryModel struct {
	EntryID    string    `gorm:"column:entry_id;primaryKey"`
	EntityType string    `gorm:"column:entity_type"`
	EntityID   string    `gorm:"column:entity_id"`
	TaskID     string    `gorm:"column:task_id"`
	FromStatus string    `gorm:"column:from_status"`
	ToStatus   string    `gorm:"column:to_status"`
	Amount     int64     `gorm:"column:amount"`
	OccurredAt time.Time `gorm:"column:occurred_at"`
}

func (ledgerEntryModel) TableName() string { return "escrow_ledger_entries" }

type reconciliationItemModel struct {
	ItemID      string     `gorm:"column:item_id;primaryKey"`
	TaskID      string     `gorm:"column:task_id"`
	PaymentID   string     `gorm:"column:payment_id"`
	TargetState string     `gorm:"column:target_state"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   string     `gorm:"column:last_error"`
	Status      string     `gorm:"column:status"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (reconciliationItemModel) TableName() string { return "task_reconciliation_items" }

type partySignalsModel struct {
	PartyID               string    `gorm:"column:party_id;primaryKey"`
	VerificationLevel     string    `gorm:"column:verification_level"`
	AverageRating         float64   `gorm:"column:average_rating"`
	ResponseTimeMinutes   float64   `gorm:"column:response_time_minutes"`
	CommunityEndorsements int       `gorm:"column:community_endorsements"`
	HasBackgroundCheck    bool      `gorm:"column:has_background_check"`
	UpdatedAt             time.Time `gorm:"column:updated_at"`
}

func (partySignalsModel) TableName() string { return "party_signals" }

type escrowOutboxModel struct {
	OutboxID         string     `gorm:"column:outbox_id;primaryKey"`
	EventType        string     `gorm:"column:event_type"`
	PartitionKey     string     `gorm:"column:partition_key"`
	PartitionKeyPath string     `gorm:"column:partition_key_path"`
	Payload          string     `gorm:"column:payload"`
	SchemaVersion    string     `gorm:"column:schema_version"`
	TraceID          string     `gorm:"column:trace_id"`
	RetryCount       int        `gorm:"column:retry_count"`
	PublishedAt      *time.Time `gorm:"column:published_at"`
	LastError        *string    `gorm:"column:last_error"`
	LastErrorAt      *time.Time `gorm:"column:last_error_at"`
	FirstSeenAt      time.Time  `gorm:"column:first_seen_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
}

func (escrowOutboxModel) TableName() string { return "escrow_outbox" }

type escrowIdempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (escrowIdempotencyModel) TableName() string { return "escrow_idempotency" }

type escrowEventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (escrowEventDedupModel) TableName() string { return "escrow_event_dedup" }
