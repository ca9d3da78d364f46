package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tachesure/escrow-service/internal/contracts"
	"github.com/tachesure/escrow-service/internal/domain"
)

// defaultResponseTimeMinutes is assumed for parties nobody has measured yet.
const defaultResponseTimeMinutes = 1440

// ScoreTrust scores caller-supplied factors without touching storage.
func (s *Service) ScoreTrust(factors domain.TrustScoreFactors) (domain.PartyTrust, error) {
	if factors.CompletedTasksCount < 0 || factors.CancelledTasksCount < 0 || factors.TotalTasksCount < 0 ||
		factors.CommunityEndorsements < 0 || factors.ResponseTimeMinutes < 0 || factors.AverageRating < 0 {
		return domain.PartyTrust{}, fmt.Errorf("%w: trust factors must be non-negative", domain.ErrInvalidInput)
	}
	if factors.VerificationLevel == "" {
		factors.VerificationLevel = domain.VerificationNone
	}
	score := domain.ComputeTrustScore(factors)
	return domain.PartyTrust{
		Score:      score,
		Level:      domain.TrustLevelFor(score),
		Factors:    factors,
		ComputedAt: s.nowFn(),
	}, nil
}

// GetPartyTrust combines stored party signals with counts derived from the
// payments the party received.
func (s *Service) GetPartyTrust(ctx context.Context, partyID string) (domain.PartyTrust, error) {
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return domain.PartyTrust{}, domain.ErrInvalidInput
	}
	if s.trustCache != nil {
		cached, ok, err := s.trustCache.Get(ctx, partyID)
		if err != nil {
			s.logger.WarnContext(ctx, "trust cache read failed",
				"operation", "get_party_trust",
				"outcome", "miss",
				"party_id", partyID,
				"error", err,
			)
		} else if ok {
			return cached, nil
		}
	}

	signals, err := s.loadSignals(ctx, partyID)
	if err != nil {
		return domain.PartyTrust{}, err
	}
	var outcomes domain.PartyOutcomes
	err = s.store(ctx, func(ctx context.Context) error {
		var countErr error
		outcomes, countErr = s.payments.OutcomeCountsForPayee(ctx, partyID)
		return countErr
	})
	if err != nil {
		return domain.PartyTrust{}, err
	}

	factors := domain.TrustScoreFactors{
		VerificationLevel:     signals.VerificationLevel,
		CompletedTasksCount:   outcomes.Completed,
		AverageRating:         signals.AverageRating,
		ResponseTimeMinutes:   signals.ResponseTimeMinutes,
		CancelledTasksCount:   outcomes.Cancelled,
		TotalTasksCount:       outcomes.Total,
		CommunityEndorsements: signals.CommunityEndorsements,
		HasBackgroundCheck:    signals.HasBackgroundCheck,
	}
	trust, err := s.ScoreTrust(factors)
	if err != nil {
		return domain.PartyTrust{}, err
	}
	trust.PartyID = partyID

	if s.trustCache != nil {
		if err := s.trustCache.Set(ctx, trust, s.cfg.TrustCacheTTL); err != nil {
			s.logger.WarnContext(ctx, "trust cache write failed",
				"operation", "get_party_trust",
				"outcome", "failure",
				"party_id", partyID,
				"error", err,
			)
		}
	}
	return trust, nil
}

// EvaluatePaymentEligibility reports whether partyID may fund escrow with
// the given method. Methods without a gate are allowed without a lookup.
func (s *Service) EvaluatePaymentEligibility(ctx context.Context, partyID, method string) (PaymentEligibility, error) {
	parsed, err := domain.ParsePaymentMethod(method)
	if err != nil {
		return PaymentEligibility{}, err
	}
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return PaymentEligibility{}, domain.ErrInvalidInput
	}
	out := PaymentEligibility{
		PartyID:       partyID,
		PaymentMethod: parsed,
		RequiredLevel: domain.MinimumTrustLevel(parsed),
	}
	if out.RequiredLevel == domain.TrustLevelPoor {
		out.Allowed = true
		return out, nil
	}
	trust, err := s.GetPartyTrust(ctx, partyID)
	if err != nil {
		return PaymentEligibility{}, err
	}
	out.Score = trust.Score
	out.Level = trust.Level
	out.Allowed = trust.Level.AtLeast(out.RequiredLevel)
	return out, nil
}

func (s *Service) checkTrustGate(ctx context.Context, payerID string, method domain.PaymentMethod) error {
	eligibility, err := s.EvaluatePaymentEligibility(ctx, payerID, string(method))
	if err != nil {
		return err
	}
	if !eligibility.Allowed {
		return fmt.Errorf("%w: %s requires %s trust, payer is %s",
			domain.ErrTrustGateRejected, method, eligibility.RequiredLevel, eligibility.Level)
	}
	return nil
}

// HandlePartySignalEvent applies a party.verification_updated or
// party.signals_updated envelope to the stored signals of the party.
func (s *Service) HandlePartySignalEvent(ctx context.Context, payload []byte) error {
	var env contracts.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: invalid party event envelope", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(env.EventID) == "" || !domain.IsCanonicalInputEvent(env.EventType) {
		return fmt.Errorf("%w: unsupported party event", domain.ErrInvalidInput)
	}
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, env.EventID, s.nowFn())
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}

	var (
		partyID string
		apply   func(*domain.PartySignals) error
	)
	switch env.EventType {
	case domain.EventPartyVerificationUpdated:
		var data contracts.PartyVerificationUpdatedPayload
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: invalid %s payload", domain.ErrInvalidInput, env.EventType)
		}
		level, err := domain.ParseVerificationLevel(data.VerificationLevel)
		if err != nil {
			return fmt.Errorf("%w: unknown verification level %q", domain.ErrInvalidInput, data.VerificationLevel)
		}
		partyID = data.PartyID
		apply = func(sig *domain.PartySignals) error {
			sig.VerificationLevel = level
			return nil
		}
	case domain.EventPartySignalsUpdated:
		var data contracts.PartySignalsUpdatedPayload
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: invalid %s payload", domain.ErrInvalidInput, env.EventType)
		}
		partyID = data.PartyID
		apply = func(sig *domain.PartySignals) error {
			return mergeSignals(sig, data)
		}
	}
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return fmt.Errorf("%w: party_id is required", domain.ErrInvalidInput)
	}
	if env.PartitionKey != "" && env.PartitionKey != partyID {
		return fmt.Errorf("%w: partition key does not match party_id", domain.ErrInvalidInput)
	}

	signals, err := s.loadSignals(ctx, partyID)
	if err != nil {
		return err
	}
	if err := apply(&signals); err != nil {
		return err
	}
	signals.UpdatedAt = s.nowFn()
	if err := s.storeWithRetry(ctx, func(ctx context.Context) error { return s.signals.Upsert(ctx, signals) }); err != nil {
		return err
	}
	s.invalidateTrust(ctx, partyID)
	if s.eventDedup != nil {
		if err := s.eventDedup.MarkProcessed(ctx, env.EventID, env.EventType, s.nowFn().Add(s.cfg.EventDedupTTL)); err != nil {
			s.logger.WarnContext(ctx, "event dedup mark failed",
				"operation", "handle_party_signal_event",
				"outcome", "failure",
				"event_id", env.EventID,
				"error", err,
			)
		}
	}
	return nil
}

func mergeSignals(sig *domain.PartySignals, data contracts.PartySignalsUpdatedPayload) error {
	if data.AverageRating != nil {
		if *data.AverageRating < 0 || *data.AverageRating > 5 {
			return fmt.Errorf("%w: average_rating must be within 0..5", domain.ErrInvalidInput)
		}
		sig.AverageRating = *data.AverageRating
	}
	if data.ResponseTimeMinutes != nil {
		if *data.ResponseTimeMinutes < 0 {
			return fmt.Errorf("%w: response_time_minutes must be non-negative", domain.ErrInvalidInput)
		}
		sig.ResponseTimeMinutes = *data.ResponseTimeMinutes
	}
	if data.CommunityEndorsements != nil {
		if *data.CommunityEndorsements < 0 {
			return fmt.Errorf("%w: community_endorsements must be non-negative", domain.ErrInvalidInput)
		}
		sig.CommunityEndorsements = *data.CommunityEndorsements
	}
	if data.HasBackgroundCheck != nil {
		sig.HasBackgroundCheck = *data.HasBackgroundCheck
	}
	return nil
}

func (s *Service) loadSignals(ctx context.Context, partyID string) (domain.PartySignals, error) {
	var signals domain.PartySignals
	err := s.store(ctx, func(ctx context.Context) error {
		var getErr error
		signals, getErr = s.signals.Get(ctx, partyID)
		return getErr
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PartySignals{
			PartyID:             partyID,
			VerificationLevel:   domain.VerificationNone,
			ResponseTimeMinutes: defaultResponseTimeMinutes,
		}, nil
	}
	return signals, err
}
