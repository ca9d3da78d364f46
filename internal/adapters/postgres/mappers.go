package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/tachesure/escrow-service/internal/domain"
)

func toPaymentModel(p domain.EscrowPayment) (escrowPaymentModel, error) {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return escrowPaymentModel{}, fmt.Errorf("encode payment metadata: %w", err)
	}
	return escrowPaymentModel{
		PaymentID: p.ID, TaskID: p.TaskID, PayerID: p.PayerID, PayeeID: p.PayeeID,
		Amount: p.Amount, FeeAmount: p.FeeAmount, NetAmount: p.NetAmount,
		PaymentMethod: string(p.PaymentMethod), Status: string(p.Status),
		EscrowReleased: p.EscrowReleased, EscrowReleasedAt: p.EscrowReleasedAt,
		RefundAmount: p.RefundAmount, RefundReason: p.RefundReason, StatusReason: p.StatusReason,
		Metadata: string(meta), CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}, nil
}

func toDomainPayment(m escrowPaymentModel) (domain.EscrowPayment, error) {
	var meta domain.PaymentMetadata
	if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
		return domain.EscrowPayment{}, fmt.Errorf("decode payment metadata %s: %w", m.PaymentID, err)
	}
	return domain.EscrowPayment{
		ID: m.PaymentID, TaskID: m.TaskID, PayerID: m.PayerID, PayeeID: m.PayeeID,
		Amount: m.Amount, FeeAmount: m.FeeAmount, NetAmount: m.NetAmount,
		PaymentMethod: domain.PaymentMethod(m.PaymentMethod), Status: domain.PaymentStatus(m.Status),
		EscrowReleased: m.EscrowReleased, EscrowReleasedAt: utcPtr(m.EscrowReleasedAt),
		RefundAmount: m.RefundAmount, RefundReason: m.RefundReason, StatusReason: m.StatusReason,
		Metadata: meta, CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}, nil
}

func toMilestoneModel(m domain.Milestone) milestoneModel {
	return milestoneModel{
		MilestoneID: m.ID, TaskID: m.TaskID, Title: m.Title, Description: m.Description,
		Amount: m.Amount, DueDate: m.DueDate, PaymentID: m.PaymentID, Status: string(m.Status),
		Position: m.Position, CompletedAt: m.CompletedAt, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func toDomainMilestone(m milestoneModel) domain.Milestone {
	return domain.Milestone{
		ID: m.MilestoneID, TaskID: m.TaskID, Title: m.Title, Description: m.Description,
		Amount: m.Amount, DueDate: utcPtr(m.DueDate), PaymentID: m.PaymentID,
		Status: domain.MilestoneStatus(m.Status), Position: m.Position,
		CompletedAt: utcPtr(m.CompletedAt), CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func toDomainLedgerEntry(m ledgerEntryModel) domain.LedgerEntry {
	return domain.LedgerEntry{
		EntryID: m.EntryID, EntityType: m.EntityType, EntityID: m.EntityID, TaskID: m.TaskID,
		FromStatus: m.FromStatus, ToStatus: m.ToStatus, Amount: m.Amount, OccurredAt: m.OccurredAt.UTC(),
	}
}

func toDomainReconciliationItem(m reconciliationItemModel) domain.ReconciliationItem {
	return domain.ReconciliationItem{
		ItemID: m.ItemID, TaskID: m.TaskID, PaymentID: m.PaymentID,
		TargetState: domain.TaskStatus(m.TargetState), CompletedAt: utcPtr(m.CompletedAt),
		Attempts: m.Attempts, LastError: m.LastError, Status: m.Status,
		CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func toDomainPartySignals(m partySignalsModel) domain.PartySignals {
	return domain.PartySignals{
		PartyID: m.PartyID, VerificationLevel: domain.VerificationLevel(m.VerificationLevel),
		AverageRating: m.AverageRating, ResponseTimeMinutes: m.ResponseTimeMinutes,
		CommunityEndorsements: m.CommunityEndorsements, HasBackgroundCheck: m.HasBackgroundCheck,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}
