package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
)

const (
	EventPaymentStatusChanged   = "escrow.payment_status_changed"
	EventMilestoneStatusChanged = "escrow.milestone_status_changed"
	EventTaskStatusChanged      = "task.status_changed"

	EventPartyVerificationUpdated = "party.verification_updated"
	EventPartySignalsUpdated      = "party.signals_updated"
)

func IsCanonicalInputEvent(eventType string) bool {
	switch eventType {
	case EventPartyVerificationUpdated, EventPartySignalsUpdated:
		return true
	default:
		return false
	}
}

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventPaymentStatusChanged, EventMilestoneStatusChanged, EventTaskStatusChanged:
		return true
	default:
		return false
	}
}

func CanonicalEventClass(eventType string) string {
	switch eventType {
	case EventPaymentStatusChanged, EventMilestoneStatusChanged, EventTaskStatusChanged:
		return CanonicalEventClassDomain
	default:
		return ""
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	switch eventType {
	case EventPaymentStatusChanged, EventMilestoneStatusChanged, EventTaskStatusChanged:
		return "data.entity_id"
	case EventPartyVerificationUpdated, EventPartySignalsUpdated:
		return "data.party_id"
	default:
		return ""
	}
}
