package postgres

import (
	"context"

	"github.com/tachesure/escrow-service/internal/domain"
	"github.com/tachesure/escrow-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type partySignalRepository struct {
	db *gorm.DB
}

func (r *partySignalRepository) Get(ctx context.Context, partyID string) (domain.PartySignals, error) {
	var rec partySignalsModel
	if err := r.db.WithContext(ctx).Where("party_id = ?", partyID).Take(&rec).Error; err != nil {
		return domain.PartySignals{}, translateError(err)
	}
	return toDomainPartySignals(rec), nil
}

func (r *partySignalRepository) Upsert(ctx context.Context, signals domain.PartySignals) error {
	rec := partySignalsModel{
		PartyID:               signals.PartyID,
		VerificationLevel:     string(signals.VerificationLevel),
		AverageRating:         signals.AverageRating,
		ResponseTimeMinutes:   signals.ResponseTimeMinutes,
		CommunityEndorsements: signals.CommunityEndorsements,
		HasBackgroundCheck:    signals.HasBackgroundCheck,
		UpdatedAt:             signals.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "party_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	return translateError(err)
}

var _ ports.PartySignalRepository = (*partySignalRepository)(nil)
