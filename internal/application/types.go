package application

import (
	"time"

	"github.com/tachesure/escrow-service/internal/domain"
)

type Config struct {
	ServiceName               string
	StoreTimeout              time.Duration
	PersistenceRetryAttempts  int
	PersistenceRetryBackoff   time.Duration
	IdempotencyTTL            time.Duration
	EventDedupTTL             time.Duration
	TrustCacheTTL             time.Duration
	ReconciliationMaxAttempts int
	EnforceTrustGate          bool
}

type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

type CreateEscrowPaymentInput struct {
	TaskID        string
	PayerID       string
	PayeeID       string
	Amount        int64
	PaymentMethod string
}

type ReleaseEscrowInput struct {
	PaymentID string
	TaskID    string
}

type RefundEscrowInput struct {
	PaymentID string
	TaskID    string
	Reason    string
}

type DisputeEscrowInput struct {
	PaymentID string
	Reason    string
}

type FailEscrowInput struct {
	PaymentID string
	Reason    string
}

type CreateMilestonesInput struct {
	TaskID     string
	Milestones []domain.MilestoneDraft
}

type FundMilestoneInput struct {
	MilestoneID   string
	PayerID       string
	PayeeID       string
	Amount        int64
	PaymentMethod string
}

type FundedMilestone struct {
	Milestone domain.Milestone
	Payment   domain.EscrowPayment
}

type PaymentEligibility struct {
	PartyID       string
	PaymentMethod domain.PaymentMethod
	Allowed       bool
	Score         int
	Level         domain.TrustLevel
	RequiredLevel domain.TrustLevel
}
