package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/camuig/autopilot/internal/domain"
)

// RecordCycle stores the cycle log and the portfolio snapshot taken at its end.
func (r *Repository) RecordCycle(ctx context.Context, rep domain.CycleReport) error {
	positions, err := json.Marshal(rep.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		log := CycleLog{
			CreatedAt:   rep.StartedAt,
			AccountID:   rep.AccountID,
			Outcome:     rep.Outcome,
			DurationMs:  rep.Duration.Milliseconds(),
			Instruments: rep.Instruments,
			Sells:       rep.Sells,
			Buys:        rep.Buys,
			Failed:      rep.Failed,
			Error:       rep.Error,
		}
		if err := tx.Create(&log).Error; err != nil {
			return err
		}

		snap := PortfolioSnapshot{
			CreatedAt:      rep.StartedAt.Add(rep.Duration),
			AccountID:      rep.AccountID,
			MainBalance:    rep.MainBalance,
			ProfitBalance:  rep.ProfitBalance,
			PositionsValue: rep.PositionsValue,
			Total:          rep.Total,
			PositionsCount: len(rep.Positions),
			PositionsJSON:  string(positions),
		}
		return tx.Create(&snap).Error
	})
}

func (r *Repository) RecentCycles(ctx context.Context, accountID string, limit int) ([]CycleLog, error) {
	var logs []CycleLog
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).
		Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

func (r *Repository) GetLatestSnapshot(ctx context.Context, accountID string) (*PortfolioSnapshot, error) {
	var snapshot PortfolioSnapshot
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id DESC").First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}
