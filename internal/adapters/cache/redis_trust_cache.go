package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
)

const trustKeyPrefix = "escrow:trust:"

// trustEntry is the cached JSON shape. Version lets a deploy that changes
// the scoring weights ignore entries written by the previous build.
type trustEntry struct {
	Version               int       `json:"v"`
	PartyID               string    `json:"party_id"`
	Score                 int       `json:"score"`
	Level                 string    `json:"level"`
	VerificationLevel     string    `json:"verification_level"`
	CompletedTasksCount   int       `json:"completed_tasks_count"`
	AverageRating         float64   `json:"average_rating"`
	ResponseTimeMinutes   float64   `json:"response_time_minutes"`
	CancelledTasksCount   int       `json:"cancelled_tasks_count"`
	TotalTasksCount       int       `json:"total_tasks_count"`
	CommunityEndorsements int       `json:"community_endorsements"`
	HasBackgroundCheck    bool      `json:"has_background_check"`
	ComputedAt            time.Time `json:"computed_at"`
}

const trustEntryVersion = 1

func encodeTrust(t domain.PartyTrust) ([]byte, error) {
	return json.Marshal(trustEntry{
		Version:               trustEntryVersion,
		PartyID:               t.PartyID,
		Score:                 t.Score,
		Level:                 string(t.Level),
		VerificationLevel:     string(t.Factors.VerificationLevel),
		CompletedTasksCount:   t.Factors.CompletedTasksCount,
		AverageRating:         t.Factors.AverageRating,
		ResponseTimeMinutes:   t.Factors.ResponseTimeMinutes,
		CancelledTasksCount:   t.Factors.CancelledTasksCount,
		TotalTasksCount:       t.Factors.TotalTasksCount,
		CommunityEndorsements: t.Factors.CommunityEndorsements,
		HasBackgroundCheck:    t.Factors.HasBackgroundCheck,
		ComputedAt:            t.ComputedAt,
	})
}

// decodeTrust reports ok=false for entries from another cache version.
func decodeTrust(raw []byte) (domain.PartyTrust, bool, error) {
	var e trustEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.PartyTrust{}, false, err
	}
	if e.Version != trustEntryVersion {
		return domain.PartyTrust{}, false, nil
	}
	return domain.PartyTrust{
		PartyID: e.PartyID,
		Score:   e.Score,
		Level:   domain.TrustLevel(e.Level),
		Factors: domain.TrustScoreFactors{
			VerificationLevel:     domain.VerificationLevel(e.VerificationLevel),
			CompletedTasksCount:   e.CompletedTasksCount,
			AverageRating:         e.AverageRating,
			ResponseTimeMinutes:   e.ResponseTimeMinutes,
			CancelledTasksCount:   e.CancelledTasksCount,
			TotalTasksCount:       e.TotalTasksCount,
			CommunityEndorsements: e.CommunityEndorsements,
			HasBackgroundCheck:    e.HasBackgroundCheck,
		},
		ComputedAt: e.ComputedAt.UTC(),
	}, true, nil
}

// RedisTrustScoreCache stores computed party trust under escrow:trust:<party>.
type RedisTrustScoreCache struct {
	client *redis.Client
}

func NewRedisTrustScoreCache(client *redis.Client) *RedisTrustScoreCache {
	return &RedisTrustScoreCache{client: client}
}

func (c *RedisTrustScoreCache) Get(ctx context.Context, partyID string) (domain.PartyTrust, bool, error) {
	raw, err := c.client.Get(ctx, trustKeyPrefix+partyID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PartyTrust{}, false, nil
		}
		return domain.PartyTrust{}, false, err
	}
	return decodeTrust(raw)
}

func (c *RedisTrustScoreCache) Set(ctx context.Context, trust domain.PartyTrust, ttl time.Duration) error {
	raw, err := encodeTrust(trust)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, trustKeyPrefix+trust.PartyID, raw, ttl).Err()
}

func (c *RedisTrustScoreCache) Invalidate(ctx context.Context, partyIDs ...string) error {
	if len(partyIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(partyIDs))
	for _, id := range partyIDs {
		if id != "" {
			keys = append(keys, trustKeyPrefix+id)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

var _ ports.TrustScoreCache = (*RedisTrustScoreCache)(nil)
