package domain

import (
	"errors"
	"testing"
	"time"
)

func TestComputeFee(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		amount int64
		method PaymentMethod
		want   int64
	}{
		{name: "orange money", amount: 1000, method: PaymentMethodOrangeMoney, want: 15},
		{name: "wave rounds down", amount: 1033, method: PaymentMethodWave, want: 15},
		{name: "mtn rounds half away from zero", amount: 1100, method: PaymentMethodMTNMoney, want: 17},
		{name: "moov small amount", amount: 33, method: PaymentMethodMoovMoney, want: 0},
		{name: "moov rounds up past half", amount: 34, method: PaymentMethodMoovMoney, want: 1},
		{name: "bank transfer is free", amount: 1000, method: PaymentMethodBankTransfer, want: 0},
		{name: "cash is free", amount: 5000, method: PaymentMethodCash, want: 0},
		{name: "crypto is free", amount: 5000, method: PaymentMethodCrypto, want: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ComputeFee(tc.amount, tc.method); got != tc.want {
				t.Fatalf("ComputeFee(%d, %s) = %d, want %d", tc.amount, tc.method, got, tc.want)
			}
		})
	}
}

func TestNewEscrowPaymentValidation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := NewEscrowPaymentParams{
		ID: "pay-1", TaskID: "task-1", PayerID: "payer", PayeeID: "payee",
		Amount: 1000, PaymentMethod: PaymentMethodOrangeMoney, Now: now,
	}

	cases := []struct {
		name   string
		mutate func(*NewEscrowPaymentParams)
		want   error
	}{
		{name: "zero amount", mutate: func(p *NewEscrowPaymentParams) { p.Amount = 0 }, want: ErrInvalidAmount},
		{name: "negative amount", mutate: func(p *NewEscrowPaymentParams) { p.Amount = -5 }, want: ErrInvalidAmount},
		{name: "same party", mutate: func(p *NewEscrowPaymentParams) { p.PayeeID = p.PayerID }, want: ErrSameParty},
		{name: "unknown method", mutate: func(p *NewEscrowPaymentParams) { p.PaymentMethod = "paypal" }, want: ErrUnsupportedPaymentMethod},
		{name: "missing task", mutate: func(p *NewEscrowPaymentParams) { p.TaskID = " " }, want: ErrInvalidInput},
	}
	for _, tc := range cases {
		params := base
		tc.mutate(&params)
		_, err := NewEscrowPayment(params)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected validation class, got %v", tc.name, err)
		}
	}

	p, err := NewEscrowPayment(base)
	if err != nil {
		t.Fatalf("NewEscrowPayment: %v", err)
	}
	if p.Status != PaymentStatusProcessing || p.EscrowReleased {
		t.Fatalf("expected processing unreleased payment, got %+v", p)
	}
	if p.FeeAmount != 15 || p.NetAmount != 985 || p.FeeAmount+p.NetAmount != p.Amount {
		t.Fatalf("unexpected fee split: fee=%d net=%d", p.FeeAmount, p.NetAmount)
	}
	if p.Metadata != FullEscrowMetadata() {
		t.Fatalf("expected full escrow metadata by default, got %+v", p.Metadata)
	}
}

func TestPaymentMethodParsingIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	m, err := ParsePaymentMethod("  Orange_Money ")
	if err != nil || m != PaymentMethodOrangeMoney {
		t.Fatalf("expected orange_money, got %q err=%v", m, err)
	}
}

func TestEscrowPaymentTransitions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewEscrowPayment(NewEscrowPaymentParams{
		ID: "pay-1", TaskID: "task-1", PayerID: "payer", PayeeID: "payee",
		Amount: 2000, PaymentMethod: PaymentMethodCash, Now: now,
	})
	if err != nil {
		t.Fatalf("NewEscrowPayment: %v", err)
	}

	released, err := p.Release(now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !released.EscrowReleased || released.Status != PaymentStatusCompleted || released.EscrowReleasedAt == nil {
		t.Fatalf("unexpected released payment: %+v", released)
	}
	if p.EscrowReleased {
		t.Fatalf("Release must not mutate the receiver")
	}
	if _, err := released.Release(now.Add(2 * time.Minute)); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased on second release, got %v", err)
	}
	if _, err := released.Refund("late", now); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased on refund after release, got %v", err)
	}

	refunded, err := p.Refund(" client cancelled ", now)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.RefundAmount == nil || *refunded.RefundAmount != 2000 || refunded.RefundReason != "client cancelled" {
		t.Fatalf("unexpected refund fields: %+v", refunded)
	}
	if _, err := refunded.Release(now); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}

	disputed, err := p.Dispute("work not delivered", now)
	if err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if _, err := disputed.Dispute("again", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second dispute, got %v", err)
	}
	if _, err := disputed.Release(now); err != nil {
		t.Fatalf("release from disputed: %v", err)
	}

	failed, err := p.Fail("rail timeout", now)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if _, err := failed.Release(now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition releasing failed payment, got %v", err)
	}
	retried, err := failed.Retry(now)
	if err != nil || retried.Status != PaymentStatusProcessing || retried.StatusReason != "" {
		t.Fatalf("Retry: %+v err=%v", retried, err)
	}
}

func TestMilestoneLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Milestone{ID: "ms-1", TaskID: "task-1", Title: "design", Amount: 1000, Status: MilestoneStatusPending}

	if err := m.CheckReleasable(); !errors.Is(err, ErrNotFunded) {
		t.Fatalf("expected ErrNotFunded for pending milestone, got %v", err)
	}
	funded, err := m.Fund("pay-1", now)
	if err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if _, err := funded.Fund("pay-2", now); !errors.Is(err, ErrMilestoneAlreadyFunded) {
		t.Fatalf("expected ErrMilestoneAlreadyFunded, got %v", err)
	}
	released, err := funded.Release(now)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.CompletedAt == nil || released.Status != MilestoneStatusReleased {
		t.Fatalf("unexpected released milestone: %+v", released)
	}
	if _, err := released.Release(now); !errors.Is(err, ErrMilestoneAlreadyReleased) {
		t.Fatalf("expected ErrMilestoneAlreadyReleased, got %v", err)
	}

	if AllReleased(nil) {
		t.Fatalf("a task without milestones is not rolled up")
	}
	if AllReleased([]Milestone{released, funded}) {
		t.Fatalf("roll-up must wait for every milestone")
	}
	if !AllReleased([]Milestone{released, released}) {
		t.Fatalf("expected roll-up when every milestone is released")
	}
}

func TestValidateMilestoneDraft(t *testing.T) {
	t.Parallel()

	if err := ValidateMilestoneDraft(MilestoneDraft{Title: "x", Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ValidateMilestoneDraft(MilestoneDraft{Title: "  ", Amount: 10}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty title, got %v", err)
	}
}

func TestCanReplaceTaskStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		current, next TaskStatus
		want          bool
	}{
		{TaskStatusOpen, TaskStatusInProgress, true},
		{"", TaskStatusInProgress, true},
		{TaskStatusInProgress, TaskStatusCompleted, true},
		{TaskStatusInProgress, TaskStatusCancelled, true},
		{TaskStatusInProgress, TaskStatusInProgress, false},
		{TaskStatusCompleted, TaskStatusInProgress, false},
		{TaskStatusCompleted, TaskStatusCancelled, false},
		{TaskStatusCancelled, TaskStatusInProgress, false},
		{TaskStatusCancelled, TaskStatusCompleted, true},
	}
	for _, tc := range cases {
		if got := CanReplaceTaskStatus(tc.current, tc.next); got != tc.want {
			t.Fatalf("CanReplaceTaskStatus(%q, %q) = %v, want %v", tc.current, tc.next, got, tc.want)
		}
	}
}
