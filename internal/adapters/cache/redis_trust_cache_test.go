package cache

import (
	"testing"
	"time"

	"github.com/tachesure/escrow-service/internal/domain"
)

func TestTrustEntryRoundTrip(t *testing.T) {
	t.Parallel()
	in := domain.PartyTrust{
		PartyID: "party-1",
		Score:   81,
		Level:   domain.TrustLevelGood,
		Factors: domain.TrustScoreFactors{
			VerificationLevel:     domain.VerificationCommunity,
			CompletedTasksCount:   12,
			AverageRating:         4.5,
			ResponseTimeMinutes:   30,
			TotalTasksCount:       13,
			CancelledTasksCount:   1,
			CommunityEndorsements: 4,
			HasBackgroundCheck:    true,
		},
		ComputedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := encodeTrust(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, ok, err := decodeTrust(raw)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestTrustEntryFromOtherVersionIsAMiss(t *testing.T) {
	t.Parallel()
	_, ok, err := decodeTrust([]byte(`{"v":0,"party_id":"p","score":50}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok {
		t.Fatalf("expected stale entry to be ignored")
	}
	if _, _, err := decodeTrust([]byte(`not-json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
