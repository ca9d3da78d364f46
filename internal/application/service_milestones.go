package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tachesure/escrow-service/internal/domain"
)

func (s *Service) CreateMilestones(ctx context.Context, actor Actor, input CreateMilestonesInput) ([]domain.Milestone, error) {
	return withIdempotency(ctx, s, actor, "create_milestones", input, func() ([]domain.Milestone, error) {
		return s.createMilestones(ctx, actor, input)
	})
}

func (s *Service) createMilestones(ctx context.Context, actor Actor, input CreateMilestonesInput) ([]domain.Milestone, error) {
	taskID := strings.TrimSpace(input.TaskID)
	if taskID == "" {
		return nil, domain.ErrInvalidInput
	}
	if len(input.Milestones) == 0 {
		return nil, domain.ErrEmptyMilestoneList
	}
	for _, draft := range input.Milestones {
		if err := domain.ValidateMilestoneDraft(draft); err != nil {
			return nil, err
		}
	}

	existing, err := s.listMilestones(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.nowFn()
	created := make([]domain.Milestone, 0, len(input.Milestones))
	for i, draft := range input.Milestones {
		created = append(created, domain.Milestone{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			Title:       strings.TrimSpace(draft.Title),
			Description: draft.Description,
			Amount:      draft.Amount,
			DueDate:     draft.DueDate,
			Status:      domain.MilestoneStatusPending,
			Position:    len(existing) + i,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if err := s.storeWithRetry(ctx, func(ctx context.Context) error { return s.milestones.CreateBatch(ctx, created) }); err != nil {
		return nil, fmt.Errorf("persist milestones: %w", err)
	}
	for _, m := range created {
		s.recordTransition(ctx, actor, transition{
			EntityType: domain.EntityTypeMilestone,
			EntityID:   m.ID,
			TaskID:     m.TaskID,
			To:         string(m.Status),
			Amount:     m.Amount,
			At:         now,
		})
	}
	return created, nil
}

// FundMilestone captures an escrow payment for exactly the milestone amount
// and links it. If another funding wins the race for the milestone, the
// payment created here is refunded before the error is returned.
func (s *Service) FundMilestone(ctx context.Context, actor Actor, input FundMilestoneInput) (FundedMilestone, error) {
	return withIdempotency(ctx, s, actor, "fund_milestone", input, func() (FundedMilestone, error) {
		return s.fundMilestone(ctx, actor, input)
	})
}

func (s *Service) fundMilestone(ctx context.Context, actor Actor, input FundMilestoneInput) (FundedMilestone, error) {
	milestone, err := s.loadMilestone(ctx, input.MilestoneID)
	if err != nil {
		return FundedMilestone{}, err
	}
	if _, err := milestone.Fund("", s.nowFn()); err != nil {
		return FundedMilestone{}, err
	}
	if input.Amount <= 0 {
		return FundedMilestone{}, domain.ErrInvalidAmount
	}
	if input.Amount != milestone.Amount {
		return FundedMilestone{}, domain.ErrMilestoneAmountMismatch
	}

	payment, err := s.createEscrowPayment(ctx, actor, CreateEscrowPaymentInput{
		TaskID:        milestone.TaskID,
		PayerID:       input.PayerID,
		PayeeID:       input.PayeeID,
		Amount:        input.Amount,
		PaymentMethod: input.PaymentMethod,
	}, domain.MilestoneEscrowMetadata(milestone.ID))
	if err != nil {
		return FundedMilestone{}, err
	}

	funded, err := milestone.Fund(payment.ID, s.nowFn())
	if err == nil {
		err = s.applyMilestoneTransition(ctx, milestone, funded)
	}
	if err != nil {
		if _, refundErr := s.refundEscrowPayment(ctx, actor, payment.ID, payment.TaskID, domain.RefundReasonSupersededFunding); refundErr != nil {
			s.logger.ErrorContext(ctx, "orphan milestone payment refund failed",
				"operation", "fund_milestone",
				"outcome", "failure",
				"milestone_id", milestone.ID,
				"payment_id", payment.ID,
				"error", refundErr,
			)
		}
		return FundedMilestone{}, err
	}

	s.recordTransition(ctx, actor, transition{
		EntityType: domain.EntityTypeMilestone,
		EntityID:   funded.ID,
		TaskID:     funded.TaskID,
		From:       string(milestone.Status),
		To:         string(funded.Status),
		Amount:     funded.Amount,
		At:         funded.UpdatedAt,
	})
	return FundedMilestone{Milestone: funded, Payment: payment}, nil
}

// ReleaseMilestone releases the linked payment, then the milestone, then
// completes the task once every milestone of it is released.
func (s *Service) ReleaseMilestone(ctx context.Context, actor Actor, milestoneID string) (domain.Milestone, error) {
	return withIdempotency(ctx, s, actor, "release_milestone", milestoneID, func() (domain.Milestone, error) {
		return s.releaseMilestone(ctx, actor, milestoneID)
	})
}

func (s *Service) releaseMilestone(ctx context.Context, actor Actor, milestoneID string) (domain.Milestone, error) {
	milestone, err := s.loadMilestone(ctx, milestoneID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := milestone.CheckReleasable(); err != nil {
		return domain.Milestone{}, err
	}

	// A payment already released by an earlier interrupted call still lets the
	// milestone catch up.
	if _, err := s.releaseEscrowPayment(ctx, actor, *milestone.PaymentID, milestone.TaskID); err != nil && !errors.Is(err, domain.ErrAlreadyReleased) {
		return domain.Milestone{}, err
	}

	released, err := milestone.Release(s.nowFn())
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := s.applyMilestoneTransition(ctx, milestone, released); err != nil {
		return domain.Milestone{}, err
	}
	s.recordTransition(ctx, actor, transition{
		EntityType: domain.EntityTypeMilestone,
		EntityID:   released.ID,
		TaskID:     released.TaskID,
		From:       string(milestone.Status),
		To:         string(released.Status),
		Amount:     released.Amount,
		At:         released.UpdatedAt,
	})

	s.rollUpTask(ctx, actor, released)
	return released, nil
}

func (s *Service) rollUpTask(ctx context.Context, actor Actor, trigger domain.Milestone) {
	all, err := s.listMilestones(ctx, trigger.TaskID)
	if err != nil {
		s.logger.WarnContext(ctx, "milestone roll-up read failed",
			"operation", "release_milestone",
			"outcome", "deferred",
			"task_id", trigger.TaskID,
			"error", err,
		)
		return
	}
	if !domain.AllReleased(all) {
		return
	}
	paymentID := ""
	if trigger.PaymentID != nil {
		paymentID = *trigger.PaymentID
	}
	s.setTaskStatus(ctx, actor, paymentID, trigger.TaskID, domain.TaskStatusCompleted, trigger.UpdatedAt)
}

func (s *Service) GetTaskMilestones(ctx context.Context, taskID string) ([]domain.Milestone, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.listMilestones(ctx, taskID)
}

func (s *Service) listMilestones(ctx context.Context, taskID string) ([]domain.Milestone, error) {
	var out []domain.Milestone
	err := s.store(ctx, func(ctx context.Context) error {
		var listErr error
		out, listErr = s.milestones.ListByTask(ctx, taskID)
		return listErr
	})
	return out, err
}

func (s *Service) loadMilestone(ctx context.Context, milestoneID string) (domain.Milestone, error) {
	milestoneID = strings.TrimSpace(milestoneID)
	if milestoneID == "" {
		return domain.Milestone{}, domain.ErrInvalidInput
	}
	var m domain.Milestone
	err := s.store(ctx, func(ctx context.Context) error {
		var getErr error
		m, getErr = s.milestones.GetByID(ctx, milestoneID)
		return getErr
	})
	return m, err
}

// applyMilestoneTransition mirrors applyPaymentTransition for milestones.
func (s *Service) applyMilestoneTransition(ctx context.Context, current, next domain.Milestone) error {
	attempts := 0
	err := s.storeWithRetry(ctx, func(ctx context.Context) error {
		attempts++
		return s.milestones.Transition(ctx, next, current.Status)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrStaleState) {
		return fmt.Errorf("persist milestone: %w", err)
	}
	latest, getErr := s.loadMilestone(ctx, current.ID)
	if getErr != nil {
		return getErr
	}
	switch {
	case attempts > 1 && latest.Status == next.Status && latest.UpdatedAt.Equal(next.UpdatedAt):
		return nil
	case latest.Status == domain.MilestoneStatusReleased:
		return domain.ErrMilestoneAlreadyReleased
	case latest.Status == domain.MilestoneStatusFunded && next.Status == domain.MilestoneStatusFunded:
		return domain.ErrMilestoneAlreadyFunded
	default:
		return err
	}
}

// reopenMilestone returns a milestone to pending after its payment was
// refunded, so it can be funded again. Best effort, like the task write.
func (s *Service) reopenMilestone(ctx context.Context, actor Actor, payment domain.EscrowPayment) {
	s.followPayment(ctx, actor, payment, "refund_escrow_payment", func(m domain.Milestone) (domain.Milestone, bool) {
		if m.Status != domain.MilestoneStatusFunded && m.Status != domain.MilestoneStatusDisputed {
			return m, false
		}
		m.Status = domain.MilestoneStatusPending
		m.PaymentID = nil
		m.UpdatedAt = payment.UpdatedAt
		return m, true
	})
}

func (s *Service) disputeMilestone(ctx context.Context, actor Actor, payment domain.EscrowPayment) {
	s.followPayment(ctx, actor, payment, "dispute_escrow_payment", func(m domain.Milestone) (domain.Milestone, bool) {
		if m.Status != domain.MilestoneStatusFunded {
			return m, false
		}
		m.Status = domain.MilestoneStatusDisputed
		m.UpdatedAt = payment.UpdatedAt
		return m, true
	})
}

func (s *Service) followPayment(ctx context.Context, actor Actor, payment domain.EscrowPayment, operation string, mutate func(domain.Milestone) (domain.Milestone, bool)) {
	var current domain.Milestone
	err := s.store(ctx, func(ctx context.Context) error {
		var getErr error
		current, getErr = s.milestones.GetByPaymentID(ctx, payment.ID)
		return getErr
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "linked milestone lookup failed",
				"operation", operation,
				"outcome", "failure",
				"payment_id", payment.ID,
				"error", err,
			)
		}
		return
	}
	next, ok := mutate(current)
	if !ok {
		return
	}
	if err := s.applyMilestoneTransition(ctx, current, next); err != nil {
		s.logger.WarnContext(ctx, "linked milestone update failed",
			"operation", operation,
			"outcome", "failure",
			"payment_id", payment.ID,
			"milestone_id", current.ID,
			"error", err,
		)
		return
	}
	s.recordTransition(ctx, actor, transition{
		EntityType: domain.EntityTypeMilestone,
		EntityID:   next.ID,
		TaskID:     next.TaskID,
		From:       string(current.Status),
		To:         string(next.Status),
		Amount:     next.Amount,
		At:         next.UpdatedAt,
	})
}
