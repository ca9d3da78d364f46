package domain

import (
	"math"
	"strings"
	"time"
)

type VerificationLevel string

const (
	VerificationNone       VerificationLevel = "none"
	VerificationBasic      VerificationLevel = "basic"
	VerificationGovernment VerificationLevel = "government"
	VerificationEnhanced   VerificationLevel = "enhanced"
	VerificationCommunity  VerificationLevel = "community"
)

func ParseVerificationLevel(raw string) (VerificationLevel, error) {
	v := VerificationLevel(strings.ToLower(strings.TrimSpace(raw)))
	switch v {
	case VerificationNone, VerificationBasic, VerificationGovernment, VerificationEnhanced, VerificationCommunity:
		return v, nil
	case "":
		return VerificationNone, nil
	default:
		return "", ErrInvalidInput
	}
}

type TrustLevel string

const (
	TrustLevelExcellent TrustLevel = "excellent"
	TrustLevelVeryGood  TrustLevel = "very_good"
	TrustLevelGood      TrustLevel = "good"
	TrustLevelFair      TrustLevel = "fair"
	TrustLevelPoor      TrustLevel = "poor"
)

// TrustScoreFactors are the inputs of ComputeTrustScore. Counts and minutes
// are expected to be non-negative; clamping them is the caller's job.
type TrustScoreFactors struct {
	VerificationLevel     VerificationLevel
	CompletedTasksCount   int
	AverageRating         float64
	ResponseTimeMinutes   float64
	CancelledTasksCount   int
	TotalTasksCount       int
	CommunityEndorsements int
	HasBackgroundCheck    bool
}

const (
	weightVerification = 0.25
	weightCompleted    = 0.20
	weightRating       = 0.20
	weightResponse     = 0.10
	weightReliability  = 0.10
	weightEndorsements = 0.10
	weightBackground   = 0.05
)

// TrustSubScores are the seven normalised components, each in [0,1].
type TrustSubScores struct {
	Verification float64
	Completed    float64
	Rating       float64
	Response     float64
	Reliability  float64
	Endorsements float64
	Background   float64
}

func ComputeTrustSubScores(f TrustScoreFactors) TrustSubScores {
	return TrustSubScores{
		Verification: verificationSubScore(f.VerificationLevel),
		Completed:    completedSubScore(f.CompletedTasksCount),
		Rating:       clamp01(f.AverageRating / 5),
		Response:     responseSubScore(f.ResponseTimeMinutes),
		Reliability:  1 - cancellationRate(f.CancelledTasksCount, f.TotalTasksCount),
		Endorsements: endorsementSubScore(f.CommunityEndorsements),
		Background:   boolSubScore(f.HasBackgroundCheck),
	}
}

// ComputeTrustScore maps a party's signals to an integer in [0,100].
func ComputeTrustScore(f TrustScoreFactors) int {
	s := ComputeTrustSubScores(f)
	sum := s.Verification*weightVerification +
		s.Completed*weightCompleted +
		s.Rating*weightRating +
		s.Response*weightResponse +
		s.Reliability*weightReliability +
		s.Endorsements*weightEndorsements +
		s.Background*weightBackground
	score := int(math.Round(sum * 100))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func TrustLevelFor(score int) TrustLevel {
	switch {
	case score >= 95:
		return TrustLevelExcellent
	case score >= 85:
		return TrustLevelVeryGood
	case score >= 75:
		return TrustLevelGood
	case score >= 60:
		return TrustLevelFair
	default:
		return TrustLevelPoor
	}
}

func (l TrustLevel) rank() int {
	switch l {
	case TrustLevelExcellent:
		return 4
	case TrustLevelVeryGood:
		return 3
	case TrustLevelGood:
		return 2
	case TrustLevelFair:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is the same as or better than min.
func (l TrustLevel) AtLeast(min TrustLevel) bool {
	return l.rank() >= min.rank()
}

// MinimumTrustLevel is the gate a payer must pass to fund escrow with method.
func MinimumTrustLevel(method PaymentMethod) TrustLevel {
	switch method {
	case PaymentMethodCrypto:
		return TrustLevelGood
	case PaymentMethodBankTransfer:
		return TrustLevelFair
	default:
		return TrustLevelPoor
	}
}

func verificationSubScore(v VerificationLevel) float64 {
	switch v {
	case VerificationCommunity:
		return 1.0
	case VerificationEnhanced:
		return 0.8
	case VerificationGovernment:
		return 0.6
	case VerificationBasic:
		return 0.3
	default:
		return 0
	}
}

func completedSubScore(n int) float64 {
	switch {
	case n >= 50:
		return 1.0
	case n >= 25:
		return 0.9
	case n >= 10:
		return 0.7
	case n >= 5:
		return 0.5
	case n >= 1:
		return 0.3
	default:
		return 0
	}
}

func responseSubScore(minutes float64) float64 {
	switch {
	case minutes <= 5:
		return 1.0
	case minutes <= 15:
		return 0.9
	case minutes <= 30:
		return 0.8
	case minutes <= 60:
		return 0.6
	case minutes <= 120:
		return 0.4
	default:
		return 0.2
	}
}

func cancellationRate(cancelled, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(1, float64(cancelled)/float64(total))
}

func endorsementSubScore(n int) float64 {
	switch {
	case n >= 10:
		return 1.0
	case n >= 5:
		return 0.8
	case n >= 3:
		return 0.6
	case n >= 1:
		return 0.4
	default:
		return 0
	}
}

func boolSubScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PartySignals are the externally supplied inputs kept per party; task
// counts come from the ledger instead.
type PartySignals struct {
	PartyID               string
	VerificationLevel     VerificationLevel
	AverageRating         float64
	ResponseTimeMinutes   float64
	CommunityEndorsements int
	HasBackgroundCheck    bool
	UpdatedAt             time.Time
}

type PartyTrust struct {
	PartyID    string
	Score      int
	Level      TrustLevel
	Factors    TrustScoreFactors
	ComputedAt time.Time
}
