package ports

import (
	"context"
	"time"

	"github.com/tachesure/escrow-service/internal/domain"
)

// TrustScoreCache holds computed party trust. Get returns found=false on a
// miss; any error is treated as a miss by the caller.
type TrustScoreCache interface {
	Get(ctx context.Context, partyID string) (domain.PartyTrust, bool, error)
	Set(ctx context.Context, trust domain.PartyTrust, ttl time.Duration) error
	Invalidate(ctx context.Context, partyIDs ...string) error
}
