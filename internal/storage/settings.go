package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camuig/autopilot/internal/domain"
)

var ErrSettingsNotFound = errors.New("strategy settings not found")

func (r *Repository) GetSettings(ctx context.Context, accountID string) (domain.StrategySettings, error) {
	var rec SettingsRecord
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.StrategySettings{}, fmt.Errorf("%w: %s", ErrSettingsNotFound, accountID)
	}
	if err != nil {
		return domain.StrategySettings{}, err
	}
	return settingsFromRecord(rec), nil
}

func (r *Repository) ListSettings(ctx context.Context) ([]domain.StrategySettings, error) {
	var recs []SettingsRecord
	if err := r.db.WithContext(ctx).Order("account_id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.StrategySettings, len(recs))
	for i, rec := range recs {
		out[i] = settingsFromRecord(rec)
	}
	return out, nil
}

func (r *Repository) SetActive(ctx context.Context, accountID string, active bool) error {
	res := r.db.WithContext(ctx).Model(&SettingsRecord{}).
		Where("account_id = ?", accountID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSettingsNotFound, accountID)
	}
	return nil
}

func (r *Repository) SaveSettings(ctx context.Context, s domain.StrategySettings) error {
	rec := settingsRecord(s)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// EnsureSettings stores s only when the account has no settings yet.
func (r *Repository) EnsureSettings(ctx context.Context, s domain.StrategySettings) error {
	rec := settingsRecord(s)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func settingsRecord(s domain.StrategySettings) SettingsRecord {
	return SettingsRecord{
		AccountID:    s.AccountID,
		IsActive:     s.IsActive,
		StrategyID:   s.StrategyID,
		RiskLevel:    s.RiskLevel,
		TargetProfit: s.TargetProfit,
		MaxDailyLoss: s.MaxDailyLoss,
	}
}

func settingsFromRecord(rec SettingsRecord) domain.StrategySettings {
	return domain.StrategySettings{
		AccountID:    rec.AccountID,
		IsActive:     rec.IsActive,
		StrategyID:   rec.StrategyID,
		RiskLevel:    rec.RiskLevel,
		TargetProfit: rec.TargetProfit,
		MaxDailyLoss: rec.MaxDailyLoss,
	}
}
