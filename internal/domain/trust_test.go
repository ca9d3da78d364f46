package domain

import "testing"

func TestComputeTrustScoreGoldenValue(t *testing.T) {
	t.Parallel()

	factors := TrustScoreFactors{
		VerificationLevel:     VerificationGovernment,
		CompletedTasksCount:   30,
		AverageRating:         4.6,
		ResponseTimeMinutes:   10,
		CancelledTasksCount:   1,
		TotalTasksCount:       20,
		CommunityEndorsements: 4,
		HasBackgroundCheck:    true,
	}
	sub := ComputeTrustSubScores(factors)
	want := TrustSubScores{Verification: 0.6, Completed: 0.9, Rating: 0.92, Response: 0.9, Reliability: 0.95, Endorsements: 0.6, Background: 1}
	if !nearlyEqual(sub.Verification, want.Verification) || !nearlyEqual(sub.Completed, want.Completed) ||
		!nearlyEqual(sub.Rating, want.Rating) || !nearlyEqual(sub.Response, want.Response) ||
		!nearlyEqual(sub.Reliability, want.Reliability) || !nearlyEqual(sub.Endorsements, want.Endorsements) ||
		!nearlyEqual(sub.Background, want.Background) {
		t.Fatalf("unexpected sub-scores: %+v", sub)
	}

	score := ComputeTrustScore(factors)
	if score != 81 {
		t.Fatalf("expected score 81, got %d", score)
	}
	if level := TrustLevelFor(score); level != TrustLevelGood {
		t.Fatalf("expected good, got %s", level)
	}
}

func TestComputeTrustScoreBounds(t *testing.T) {
	t.Parallel()

	if got := ComputeTrustScore(TrustScoreFactors{ResponseTimeMinutes: 10_000}); got != 12 {
		t.Fatalf("expected the floor of an unknown party to be 12, got %d", got)
	}
	best := TrustScoreFactors{
		VerificationLevel:     VerificationCommunity,
		CompletedTasksCount:   500,
		AverageRating:         9,
		ResponseTimeMinutes:   1,
		TotalTasksCount:       500,
		CommunityEndorsements: 50,
		HasBackgroundCheck:    true,
	}
	if got := ComputeTrustScore(best); got != 100 {
		t.Fatalf("expected 100 for best factors, got %d", got)
	}
	worst := TrustScoreFactors{CancelledTasksCount: 10, TotalTasksCount: 5, ResponseTimeMinutes: 500}
	if got := ComputeTrustScore(worst); got < 0 || got > 100 {
		t.Fatalf("score out of range: %d", got)
	}
}

func TestComputeTrustScoreMonotonicInRating(t *testing.T) {
	t.Parallel()

	f := TrustScoreFactors{VerificationLevel: VerificationBasic, CompletedTasksCount: 3, ResponseTimeMinutes: 45, TotalTasksCount: 4}
	prev := -1
	for r := 0.0; r <= 5.0; r += 0.25 {
		f.AverageRating = r
		score := ComputeTrustScore(f)
		if score < prev {
			t.Fatalf("score decreased at rating %.2f: %d < %d", r, score, prev)
		}
		prev = score
	}
}

func TestTrustLevelThresholds(t *testing.T) {
	t.Parallel()

	cases := map[int]TrustLevel{
		100: TrustLevelExcellent, 95: TrustLevelExcellent, 94: TrustLevelVeryGood,
		85: TrustLevelVeryGood, 84: TrustLevelGood, 75: TrustLevelGood,
		74: TrustLevelFair, 60: TrustLevelFair, 59: TrustLevelPoor, 0: TrustLevelPoor,
	}
	for score, want := range cases {
		if got := TrustLevelFor(score); got != want {
			t.Fatalf("TrustLevelFor(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestMinimumTrustLevelGate(t *testing.T) {
	t.Parallel()

	if !TrustLevelGood.AtLeast(MinimumTrustLevel(PaymentMethodCrypto)) {
		t.Fatalf("good should pass the crypto gate")
	}
	if TrustLevelFair.AtLeast(MinimumTrustLevel(PaymentMethodCrypto)) {
		t.Fatalf("fair should not pass the crypto gate")
	}
	if !TrustLevelFair.AtLeast(MinimumTrustLevel(PaymentMethodBankTransfer)) {
		t.Fatalf("fair should pass the bank transfer gate")
	}
	if !TrustLevelPoor.AtLeast(MinimumTrustLevel(PaymentMethodWave)) {
		t.Fatalf("mobile money has no gate")
	}
}

func TestParseVerificationLevel(t *testing.T) {
	t.Parallel()

	if v, err := ParseVerificationLevel(""); err != nil || v != VerificationNone {
		t.Fatalf("empty level should map to none, got %q err=%v", v, err)
	}
	if v, err := ParseVerificationLevel("Enhanced"); err != nil || v != VerificationEnhanced {
		t.Fatalf("expected enhanced, got %q err=%v", v, err)
	}
	if _, err := ParseVerificationLevel("platinum"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func nearlyEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
