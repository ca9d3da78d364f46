package domain

import (
	"strings"
	"time"
)

type MilestoneStatus string

const (
	MilestoneStatusPending  MilestoneStatus = "pending"
	MilestoneStatusFunded   MilestoneStatus = "funded"
	MilestoneStatusReleased MilestoneStatus = "released"
	MilestoneStatusDisputed MilestoneStatus = "disputed"
)

type Milestone struct {
	ID          string
	TaskID      string
	Title       string
	Description string
	Amount      int64
	DueDate     *time.Time
	PaymentID   *string
	Status      MilestoneStatus
	Position    int
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type MilestoneDraft struct {
	Title       string
	Description string
	Amount      int64
	DueDate     *time.Time
}

func ValidateMilestoneDraft(d MilestoneDraft) error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrInvalidInput
	}
	if d.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Fund links a captured escrow payment to a pending milestone.
func (m Milestone) Fund(paymentID string, now time.Time) (Milestone, error) {
	switch m.Status {
	case MilestoneStatusPending:
	case MilestoneStatusReleased:
		return Milestone{}, ErrMilestoneAlreadyReleased
	default:
		return Milestone{}, ErrMilestoneAlreadyFunded
	}
	id := paymentID
	m.PaymentID = &id
	m.Status = MilestoneStatusFunded
	m.UpdatedAt = now
	return m, nil
}

// CheckReleasable reports why a milestone cannot be released, if it cannot.
func (m Milestone) CheckReleasable() error {
	switch {
	case m.Status == MilestoneStatusReleased:
		return ErrMilestoneAlreadyReleased
	case m.PaymentID == nil || strings.TrimSpace(*m.PaymentID) == "":
		return ErrNotFunded
	case m.Status != MilestoneStatusFunded && m.Status != MilestoneStatusDisputed:
		return ErrNotFunded
	}
	return nil
}

func (m Milestone) Release(now time.Time) (Milestone, error) {
	if err := m.CheckReleasable(); err != nil {
		return Milestone{}, err
	}
	completed := now
	m.Status = MilestoneStatusReleased
	m.CompletedAt = &completed
	m.UpdatedAt = now
	return m, nil
}

// AllReleased is the roll-up rule: a task with at least one milestone is
// complete once every milestone is released.
func AllReleased(milestones []Milestone) bool {
	if len(milestones) == 0 {
		return false
	}
	for _, m := range milestones {
		if m.Status != MilestoneStatusReleased {
			return false
		}
	}
	return true
}
