package http

import (
	"time"

	"github.com/tachesure/escrow-service/internal/application"
	"github.com/tachesure/escrow-service/internal/domain"
)

type paymentView struct {
	PaymentID        string     `json:"payment_id"`
	TaskID           string     `json:"task_id"`
	PayerID          string     `json:"payer_id"`
	PayeeID          string     `json:"payee_id"`
	Amount           int64      `json:"amount"`
	FeeAmount        int64      `json:"fee_amount"`
	NetAmount        int64      `json:"net_amount"`
	PaymentMethod    string     `json:"payment_method"`
	Status           string     `json:"status"`
	EscrowReleased   bool       `json:"escrow_released"`
	EscrowReleasedAt *time.Time `json:"escrow_released_at,omitempty"`
	RefundAmount     *int64     `json:"refund_amount,omitempty"`
	RefundReason     string     `json:"refund_reason,omitempty"`
	StatusReason     string     `json:"status_reason,omitempty"`
	EscrowType       string     `json:"escrow_type"`
	MilestoneID      string     `json:"milestone_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toPaymentView(p domain.EscrowPayment) paymentView {
	return paymentView{
		PaymentID: p.ID, TaskID: p.TaskID, PayerID: p.PayerID, PayeeID: p.PayeeID,
		Amount: p.Amount, FeeAmount: p.FeeAmount, NetAmount: p.NetAmount,
		PaymentMethod: string(p.PaymentMethod), Status: string(p.Status),
		EscrowReleased: p.EscrowReleased, EscrowReleasedAt: p.EscrowReleasedAt,
		RefundAmount: p.RefundAmount, RefundReason: p.RefundReason, StatusReason: p.StatusReason,
		EscrowType: string(p.Metadata.EscrowType), MilestoneID: p.Metadata.MilestoneID,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

type milestoneView struct {
	MilestoneID string     `json:"milestone_id"`
	TaskID      string     `json:"task_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Amount      int64      `json:"amount"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	PaymentID   *string    `json:"payment_id,omitempty"`
	Status      string     `json:"status"`
	Position    int        `json:"position"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toMilestoneView(m domain.Milestone) milestoneView {
	return milestoneView{
		MilestoneID: m.ID, TaskID: m.TaskID, Title: m.Title, Description: m.Description,
		Amount: m.Amount, DueDate: m.DueDate, PaymentID: m.PaymentID, Status: string(m.Status),
		Position: m.Position, CompletedAt: m.CompletedAt, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func toMilestoneViews(ms []domain.Milestone) []milestoneView {
	out := make([]milestoneView, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMilestoneView(m))
	}
	return out
}

type summaryView struct {
	TaskID        string    `json:"task_id"`
	HeldAmount    int64     `json:"held_amount"`
	ReleasedGross int64     `json:"released_gross"`
	ReleasedNet   int64     `json:"released_net"`
	RefundedTotal int64     `json:"refunded_total"`
	FeeTotal      int64     `json:"fee_total"`
	PaymentCount  int       `json:"payment_count"`
	CalculatedAt  time.Time `json:"calculated_at"`
}

type trustFactorsBody struct {
	VerificationLevel     string  `json:"verification_level"`
	CompletedTasksCount   int     `json:"completed_tasks_count"`
	AverageRating         float64 `json:"average_rating"`
	ResponseTimeMinutes   float64 `json:"response_time_minutes"`
	CancelledTasksCount   int     `json:"cancelled_tasks_count"`
	TotalTasksCount       int     `json:"total_tasks_count"`
	CommunityEndorsements int     `json:"community_endorsements"`
	HasBackgroundCheck    bool    `json:"has_background_check"`
}

type trustView struct {
	PartyID    string           `json:"party_id,omitempty"`
	Score      int              `json:"score"`
	Level      string           `json:"level"`
	Factors    trustFactorsBody `json:"factors"`
	ComputedAt time.Time        `json:"computed_at"`
}

func toTrustView(t domain.PartyTrust) trustView {
	f := t.Factors
	return trustView{
		PartyID: t.PartyID,
		Score:   t.Score,
		Level:   string(t.Level),
		Factors: trustFactorsBody{
			VerificationLevel:     string(f.VerificationLevel),
			CompletedTasksCount:   f.CompletedTasksCount,
			AverageRating:         f.AverageRating,
			ResponseTimeMinutes:   f.ResponseTimeMinutes,
			CancelledTasksCount:   f.CancelledTasksCount,
			TotalTasksCount:       f.TotalTasksCount,
			CommunityEndorsements: f.CommunityEndorsements,
			HasBackgroundCheck:    f.HasBackgroundCheck,
		},
		ComputedAt: t.ComputedAt,
	}
}

type eligibilityView struct {
	PartyID       string `json:"party_id"`
	PaymentMethod string `json:"payment_method"`
	Allowed       bool   `json:"allowed"`
	Score         int    `json:"score"`
	Level         string `json:"level"`
	RequiredLevel string `json:"required_level"`
}

func toEligibilityView(e application.PaymentEligibility) eligibilityView {
	return eligibilityView{
		PartyID: e.PartyID, PaymentMethod: string(e.PaymentMethod), Allowed: e.Allowed,
		Score: e.Score, Level: string(e.Level), RequiredLevel: string(e.RequiredLevel),
	}
}
