package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var (
	ErrInvalidAmount            = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrSameParty                = fmt.Errorf("%w: payer and payee must differ", ErrInvalidInput)
	ErrEmptyMilestoneList       = fmt.Errorf("%w: milestone list is empty", ErrInvalidInput)
	ErrUnsupportedPaymentMethod = fmt.Errorf("%w: unsupported payment method", ErrInvalidInput)
	ErrMilestoneAmountMismatch  = fmt.Errorf("%w: funding amount differs from milestone amount", ErrInvalidInput)

	ErrAlreadyReleased          = fmt.Errorf("%w: escrow already released", ErrConflict)
	ErrAlreadyRefunded          = fmt.Errorf("%w: escrow already refunded", ErrConflict)
	ErrInvalidTransition        = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrNotFunded                = fmt.Errorf("%w: milestone is not funded", ErrConflict)
	ErrMilestoneAlreadyFunded   = fmt.Errorf("%w: milestone already funded", ErrConflict)
	ErrMilestoneAlreadyReleased = fmt.Errorf("%w: milestone already released", ErrConflict)
	ErrIdempotencyConflict      = fmt.Errorf("%w: idempotency key reused with a different request", ErrConflict)
	ErrStaleState               = fmt.Errorf("%w: record changed concurrently", ErrConflict)

	ErrTrustGateRejected = fmt.Errorf("%w: trust level too low for payment method", ErrForbidden)
)

// IsRetryable reports whether the caller may retry the operation with backoff.
// Only storage failures qualify; validation, lookup and business-rule
// rejections are final.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
