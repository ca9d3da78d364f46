package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tachesure/escrow-service/internal/domain"
)

func (s *Service) CreateEscrowPayment(ctx context.Context, actor Actor, input CreateEscrowPaymentInput) (domain.EscrowPayment, error) {
	return withIdempotency(ctx, s, actor, "create_escrow_payment", input, func() (domain.EscrowPayment, error) {
		return s.createEscrowPayment(ctx, actor, input, domain.FullEscrowMetadata())
	})
}

func (s *Service) createEscrowPayment(ctx context.Context, actor Actor, input CreateEscrowPaymentInput, meta domain.PaymentMetadata) (domain.EscrowPayment, error) {
	payment, err := domain.NewEscrowPayment(domain.NewEscrowPaymentParams{
		ID:            uuid.NewString(),
		TaskID:        input.TaskID,
		PayerID:       input.PayerID,
		PayeeID:       input.PayeeID,
		Amount:        input.Amount,
		PaymentMethod: domain.PaymentMethod(input.PaymentMethod),
		Metadata:      meta,
		Now:           s.nowFn(),
	})
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	if s.cfg.EnforceTrustGate {
		if err := s.checkTrustGate(ctx, payment.PayerID, payment.PaymentMethod); err != nil {
			return domain.EscrowPayment{}, err
		}
	}
	if err := s.storeWithRetry(ctx, func(ctx context.Context) error { return s.payments.Upsert(ctx, payment) }); err != nil {
		return domain.EscrowPayment{}, fmt.Errorf("persist escrow payment: %w", err)
	}

	s.recordTransition(ctx, actor, transition{
		EntityType: domain.EntityTypePayment,
		EntityID:   payment.ID,
		TaskID:     payment.TaskID,
		To:         string(payment.Status),
		Amount:     payment.Amount,
		At:         payment.CreatedAt,
	})
	s.setTaskStatus(ctx, actor, payment.ID, payment.TaskID, domain.TaskStatusInProgress, payment.CreatedAt)
	return payment, nil
}

// ReleaseEscrowPayment pays the held funds out to the payee. A second call on
// an already released payment is rejected with domain.ErrAlreadyReleased and
// changes nothing.
func (s *Service) ReleaseEscrowPayment(ctx context.Context, actor Actor, input ReleaseEscrowInput) (domain.EscrowPayment, error) {
	return withIdempotency(ctx, s, actor, "release_escrow_payment", input, func() (domain.EscrowPayment, error) {
		return s.releaseEscrowPayment(ctx, actor, input.PaymentID, input.TaskID)
	})
}

func (s *Service) releaseEscrowPayment(ctx context.Context, actor Actor, paymentID, taskID string) (domain.EscrowPayment, error) {
	current, err := s.loadPaymentForTask(ctx, paymentID, taskID)
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	next, err := current.Release(s.nowFn())
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	if err := s.applyPaymentTransition(ctx, current, next); err != nil {
		return domain.EscrowPayment{}, err
	}

	s.recordTransition(ctx, actor, transition{
		EntityType: domain.EntityTypePayment,
		EntityID:   next.ID,
		TaskID:     next.TaskID,
		From:       string(current.Status),
		To:         string(next.Status),
		Amount:     next.Amount,
		At:         next.UpdatedAt,
	})
	s.invalidateTrust(ctx, next.PayeeID)
	if next.Metadata.EscrowType != domain.EscrowTypeMilestone {
		s.setTaskStatus(ctx, actor, next.ID, next.TaskID, domain.TaskStatusCompleted, next.UpdatedAt)
	}
	return next, nil
}

func (s *Service) RefundEscrowPayment(ctx context.Context, actor Actor, input RefundEscrowInput) (domain.EscrowPayment, error) {
	return withIdempotency(ctx, s, actor, "refund_escrow_payment", input, func() (domain.EscrowPayment, error) {
		return s.refundEscrowPayment(ctx, actor, input.PaymentID, input.TaskID, input.Reason)
	})
}

func (s *Service) refundEscrowPayment(ctx context.Context, actor Actor, paymentID, taskID, reason string) (domain.EscrowPayment, error) {
	current, err := s.loadPaymentForTask(ctx, paymentID, taskID)
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	next, err := current.Refund(reason, s.nowFn())
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	if err := s.applyPaymentTransition(ctx, current, next); err != nil {
		return domain.EscrowPayment{}, err
	}

	s.recordTransition(ctx, actor, transition{
		EntityType: domain.EntityTypePayment,
		EntityID:   next.ID,
		TaskID:     next.TaskID,
		From:       string(current.Status),
		To:         string(next.Status),
		Amount:     *next.RefundAmount,
		At:         next.UpdatedAt,
	})
	s.invalidateTrust(ctx, next.PayeeID)
	if next.Metadata.EscrowType == domain.EscrowTypeMilestone {
		s.reopenMilestone(ctx, actor, next)
	} else {
		s.setTaskStatus(ctx, actor, next.ID, next.TaskID, domain.TaskStatusCancelled, next.UpdatedAt)
	}
	return next, nil
}

func (s *Service) DisputeEscrowPayment(ctx context.Context, actor Actor, input DisputeEscrowInput) (domain.EscrowPayment, error) {
	return withIdempotency(ctx, s, actor, "dispute_escrow_payment", input, func() (domain.EscrowPayment, error) {
		current, err := s.loadPaymentForTask(ctx, input.PaymentID, "")
		if err != nil {
			return domain.EscrowPayment{}, err
		}
		next, err := current.Dispute(input.Reason, s.nowFn())
		if err != nil {
			return domain.EscrowPayment{}, err
		}
		if err := s.applyPaymentTransition(ctx, current, next); err != nil {
			return domain.EscrowPayment{}, err
		}
		s.recordTransition(ctx, actor, transition{
			EntityType: domain.EntityTypePayment,
			EntityID:   next.ID,
			TaskID:     next.TaskID,
			From:       string(current.Status),
			To:         string(next.Status),
			Amount:     next.Amount,
			At:         next.UpdatedAt,
		})
		if next.Metadata.EscrowType == domain.EscrowTypeMilestone {
			s.disputeMilestone(ctx, actor, next)
		}
		return next, nil
	})
}

// FailEscrowPayment records a capture failure reported by the payment rail.
func (s *Service) FailEscrowPayment(ctx context.Context, actor Actor, input FailEscrowInput) (domain.EscrowPayment, error) {
	return withIdempotency(ctx, s, actor, "fail_escrow_payment", input, func() (domain.EscrowPayment, error) {
		current, err := s.loadPaymentForTask(ctx, input.PaymentID, "")
		if err != nil {
			return domain.EscrowPayment{}, err
		}
		next, err := current.Fail(input.Reason, s.nowFn())
		if err != nil {
			return domain.EscrowPayment{}, err
		}
		return s.commitSimpleTransition(ctx, actor, current, next)
	})
}

func (s *Service) RetryEscrowPayment(ctx context.Context, actor Actor, paymentID string) (domain.EscrowPayment, error) {
	return withIdempotency(ctx, s, actor, "retry_escrow_payment", paymentID, func() (domain.EscrowPayment, error) {
		current, err := s.loadPaymentForTask(ctx, paymentID, "")
		if err != nil {
			return domain.EscrowPayment{}, err
		}
		next, err := current.Retry(s.nowFn())
		if err != nil {
			return domain.EscrowPayment{}, err
		}
		return s.commitSimpleTransition(ctx, actor, current, next)
	})
}

func (s *Service) commitSimpleTransition(ctx context.Context, actor Actor, current, next domain.EscrowPayment) (domain.EscrowPayment, error) {
	if err := s.applyPaymentTransition(ctx, current, next); err != nil {
		return domain.EscrowPayment{}, err
	}
	s.recordTransition(ctx, actor, transition{
		EntityType: domain.EntityTypePayment,
		EntityID:   next.ID,
		TaskID:     next.TaskID,
		From:       string(current.Status),
		To:         string(next.Status),
		Amount:     next.Amount,
		At:         next.UpdatedAt,
	})
	return next, nil
}

func (s *Service) GetEscrowPayment(ctx context.Context, paymentID string) (domain.EscrowPayment, error) {
	return s.loadPaymentForTask(ctx, paymentID, "")
}

// GetTaskEscrowSummary totals every payment captured for a task.
func (s *Service) GetTaskEscrowSummary(ctx context.Context, taskID string) (domain.EscrowSummary, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return domain.EscrowSummary{}, domain.ErrInvalidInput
	}
	var payments []domain.EscrowPayment
	err := s.store(ctx, func(ctx context.Context) error {
		var listErr error
		payments, listErr = s.payments.ListByTask(ctx, taskID)
		return listErr
	})
	if err != nil {
		return domain.EscrowSummary{}, err
	}
	out := domain.EscrowSummary{TaskID: taskID, PaymentCount: len(payments), CalculatedAt: s.nowFn()}
	for _, p := range payments {
		switch p.Status {
		case domain.PaymentStatusProcessing, domain.PaymentStatusDisputed:
			out.HeldAmount += p.Amount
		case domain.PaymentStatusCompleted:
			out.ReleasedGross += p.Amount
			out.ReleasedNet += p.NetAmount
			out.FeeTotal += p.FeeAmount
		case domain.PaymentStatusRefunded:
			if p.RefundAmount != nil {
				out.RefundedTotal += *p.RefundAmount
			}
		}
	}
	return out, nil
}

func (s *Service) loadPaymentForTask(ctx context.Context, paymentID, taskID string) (domain.EscrowPayment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.EscrowPayment{}, domain.ErrInvalidInput
	}
	var payment domain.EscrowPayment
	err := s.store(ctx, func(ctx context.Context) error {
		var getErr error
		payment, getErr = s.payments.GetByID(ctx, paymentID)
		return getErr
	})
	if err != nil {
		return domain.EscrowPayment{}, err
	}
	if taskID = strings.TrimSpace(taskID); taskID != "" && taskID != payment.TaskID {
		return domain.EscrowPayment{}, fmt.Errorf("%w: payment does not belong to task", domain.ErrInvalidInput)
	}
	return payment, nil
}

// applyPaymentTransition writes next with a compare-and-swap on the status
// read into current. When the swap loses, the stored row decides the error.
// After a retried attempt, a row that already carries next is our own write
// whose acknowledgement was lost.
func (s *Service) applyPaymentTransition(ctx context.Context, current, next domain.EscrowPayment) error {
	attempts := 0
	err := s.storeWithRetry(ctx, func(ctx context.Context) error {
		attempts++
		return s.payments.Transition(ctx, next, current.Status)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrStaleState) {
		return fmt.Errorf("persist escrow payment: %w", err)
	}
	latest, getErr := s.loadPaymentForTask(ctx, current.ID, "")
	if getErr != nil {
		return getErr
	}
	switch {
	case attempts > 1 && latest.Status == next.Status && latest.UpdatedAt.Equal(next.UpdatedAt):
		return nil
	case latest.EscrowReleased:
		return domain.ErrAlreadyReleased
	case latest.Status == domain.PaymentStatusRefunded:
		return domain.ErrAlreadyRefunded
	default:
		return err
	}
}

func (s *Service) invalidateTrust(ctx context.Context, partyIDs ...string) {
	if s.trustCache == nil {
		return
	}
	if err := s.trustCache.Invalidate(ctx, partyIDs...); err != nil {
		s.logger.WarnContext(ctx, "trust cache invalidation failed",
			"operation", "invalidate_trust",
			"outcome", "failure",
			"error", err,
		)
	}
}
