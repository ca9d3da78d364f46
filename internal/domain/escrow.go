package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusDisputed   PaymentStatus = "disputed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusRefunded
}

type PaymentMethod string

const (
	PaymentMethodOrangeMoney  PaymentMethod = "orange_money"
	PaymentMethodMTNMoney     PaymentMethod = "mtn_money"
	PaymentMethodMoovMoney    PaymentMethod = "moov_money"
	PaymentMethodWave         PaymentMethod = "wave"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCrypto       PaymentMethod = "crypto"
)

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case PaymentMethodOrangeMoney, PaymentMethodMTNMoney, PaymentMethodMoovMoney, PaymentMethodWave,
		PaymentMethodBankTransfer, PaymentMethodCash, PaymentMethodCrypto:
		return m, nil
	default:
		return "", ErrUnsupportedPaymentMethod
	}
}

func (m PaymentMethod) IsMobileMoney() bool {
	switch m {
	case PaymentMethodOrangeMoney, PaymentMethodMTNMoney, PaymentMethodMoovMoney, PaymentMethodWave:
		return true
	default:
		return false
	}
}

var mobileMoneyFeeRate = decimal.RequireFromString("0.015")

// ComputeFee returns the platform fee in minor units. Mobile-money captures
// carry 1.5% rounded half away from zero; every other rail is fee-free.
func ComputeFee(amount int64, method PaymentMethod) int64 {
	if !method.IsMobileMoney() || amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(mobileMoneyFeeRate).Round(0).IntPart()
}

type EscrowType string

const (
	EscrowTypeFull      EscrowType = "full"
	EscrowTypeMilestone EscrowType = "milestone"
)

const PaymentMetadataVersion = 1

// PaymentMetadata is the only payload attached to a payment. New uses get a
// new EscrowType and a version bump.
type PaymentMetadata struct {
	Version     int        `json:"version"`
	EscrowType  EscrowType `json:"escrow_type"`
	MilestoneID string     `json:"milestone_id,omitempty"`
}

func FullEscrowMetadata() PaymentMetadata {
	return PaymentMetadata{Version: PaymentMetadataVersion, EscrowType: EscrowTypeFull}
}

func MilestoneEscrowMetadata(milestoneID string) PaymentMetadata {
	return PaymentMetadata{Version: PaymentMetadataVersion, EscrowType: EscrowTypeMilestone, MilestoneID: milestoneID}
}

type EscrowPayment struct {
	ID               string
	TaskID           string
	PayerID          string
	PayeeID          string
	Amount           int64
	FeeAmount        int64
	NetAmount        int64
	PaymentMethod    PaymentMethod
	Status           PaymentStatus
	EscrowReleased   bool
	EscrowReleasedAt *time.Time
	RefundAmount     *int64
	RefundReason     string
	StatusReason     string
	Metadata         PaymentMetadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type NewEscrowPaymentParams struct {
	ID            string
	TaskID        string
	PayerID       string
	PayeeID       string
	Amount        int64
	PaymentMethod PaymentMethod
	Metadata      PaymentMetadata
	Now           time.Time
}

// NewEscrowPayment validates the capture request and builds the record in
// its initial processing state.
func NewEscrowPayment(p NewEscrowPaymentParams) (EscrowPayment, error) {
	taskID := strings.TrimSpace(p.TaskID)
	payerID := strings.TrimSpace(p.PayerID)
	payeeID := strings.TrimSpace(p.PayeeID)
	if taskID == "" || payerID == "" || payeeID == "" {
		return EscrowPayment{}, ErrInvalidInput
	}
	if p.Amount <= 0 {
		return EscrowPayment{}, ErrInvalidAmount
	}
	if payerID == payeeID {
		return EscrowPayment{}, ErrSameParty
	}
	method, err := ParsePaymentMethod(string(p.PaymentMethod))
	if err != nil {
		return EscrowPayment{}, err
	}
	fee := ComputeFee(p.Amount, method)
	meta := p.Metadata
	if meta.Version == 0 {
		meta = FullEscrowMetadata()
	}
	return EscrowPayment{
		ID:            p.ID,
		TaskID:        taskID,
		PayerID:       payerID,
		PayeeID:       payeeID,
		Amount:        p.Amount,
		FeeAmount:     fee,
		NetAmount:     p.Amount - fee,
		PaymentMethod: method,
		Status:        PaymentStatusProcessing,
		Metadata:      meta,
		CreatedAt:     p.Now,
		UpdatedAt:     p.Now,
	}, nil
}

// Release moves held funds to the payee. Allowed from processing and from
// disputed (arbitration in the payee's favour).
func (p EscrowPayment) Release(now time.Time) (EscrowPayment, error) {
	if p.EscrowReleased {
		return EscrowPayment{}, ErrAlreadyReleased
	}
	switch p.Status {
	case PaymentStatusProcessing, PaymentStatusDisputed:
	case PaymentStatusRefunded:
		return EscrowPayment{}, ErrAlreadyRefunded
	default:
		return EscrowPayment{}, ErrInvalidTransition
	}
	released := now
	p.EscrowReleased = true
	p.EscrowReleasedAt = &released
	p.Status = PaymentStatusCompleted
	p.UpdatedAt = now
	return p, nil
}

// Refund returns the full captured amount to the payer.
func (p EscrowPayment) Refund(reason string, now time.Time) (EscrowPayment, error) {
	if p.EscrowReleased {
		return EscrowPayment{}, ErrAlreadyReleased
	}
	switch p.Status {
	case PaymentStatusProcessing, PaymentStatusDisputed:
	case PaymentStatusRefunded:
		return EscrowPayment{}, ErrAlreadyRefunded
	default:
		return EscrowPayment{}, ErrInvalidTransition
	}
	amount := p.Amount
	p.Status = PaymentStatusRefunded
	p.RefundAmount = &amount
	p.RefundReason = strings.TrimSpace(reason)
	p.UpdatedAt = now
	return p, nil
}

func (p EscrowPayment) Dispute(reason string, now time.Time) (EscrowPayment, error) {
	if p.EscrowReleased {
		return EscrowPayment{}, ErrAlreadyReleased
	}
	if p.Status != PaymentStatusProcessing {
		return EscrowPayment{}, ErrInvalidTransition
	}
	p.Status = PaymentStatusDisputed
	p.StatusReason = strings.TrimSpace(reason)
	p.UpdatedAt = now
	return p, nil
}

// Fail records that the external rail reported the capture as failed.
func (p EscrowPayment) Fail(reason string, now time.Time) (EscrowPayment, error) {
	if p.Status != PaymentStatusProcessing || p.EscrowReleased {
		return EscrowPayment{}, ErrInvalidTransition
	}
	p.Status = PaymentStatusFailed
	p.StatusReason = strings.TrimSpace(reason)
	p.UpdatedAt = now
	return p, nil
}

func (p EscrowPayment) Retry(now time.Time) (EscrowPayment, error) {
	if p.Status != PaymentStatusFailed {
		return EscrowPayment{}, ErrInvalidTransition
	}
	p.Status = PaymentStatusProcessing
	p.StatusReason = ""
	p.UpdatedAt = now
	return p, nil
}

// EscrowSummary aggregates the ledger of one task.
type EscrowSummary struct {
	TaskID        string
	HeldAmount    int64
	ReleasedGross int64
	ReleasedNet   int64
	RefundedTotal int64
	FeeTotal      int64
	PaymentCount  int
	CalculatedAt  time.Time
}

// RefundReasonSupersededFunding marks the refund of a payment that lost a
// milestone funding race. It says nothing about the payee.
const RefundReasonSupersededFunding = "milestone funding superseded"

// CountsTowardOutcomes is false for payments that never represented work
// offered to the payee.
func (p EscrowPayment) CountsTowardOutcomes() bool {
	return !(p.Status == PaymentStatusRefunded && p.RefundReason == RefundReasonSupersededFunding)
}

// PartyOutcomes are the ledger-derived task counts for a payee.
type PartyOutcomes struct {
	Completed int
	Cancelled int
	Total     int
}

// TaskSettlement folds the payments one payee received for one task.
type TaskSettlement struct {
	TaskID   string
	Released bool
	Refunded bool
}

// CountPartyOutcomes counts tasks, not payments. A task with any released
// payment is completed; one with refunds and no release is cancelled.
func CountPartyOutcomes(tasks []TaskSettlement) PartyOutcomes {
	var out PartyOutcomes
	for _, t := range tasks {
		out.Total++
		switch {
		case t.Released:
			out.Completed++
		case t.Refunded:
			out.Cancelled++
		}
	}
	return out
}
