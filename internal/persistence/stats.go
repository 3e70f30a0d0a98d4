package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FightEngine/internal/model"
)

// StatsStore aggregates platform-wide figures across the whole ledger.
type StatsStore struct {
	db *sql.DB
}

func NewStatsStore(db *sql.DB) *StatsStore {
	return &StatsStore{db: db}
}

// PlatformStats computes total traded notional, total fees, distinct
// traders and the live fight count in one round trip each.
func (s *StatsStore) PlatformStats(ctx context.Context) (model.PlatformStats, error) {
	stats := model.PlatformStats{At: time.Now()}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity * price), 0),
		       COALESCE(SUM(fee), 0),
		       COUNT(DISTINCT user_id)
		FROM fight_trades`,
	).Scan(&stats.TotalVolume, &stats.TotalFees, &stats.Traders)
	if err != nil {
		return model.PlatformStats{}, fmt.Errorf("trade aggregates: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fights WHERE status = $1`, model.StatusLive,
	).Scan(&stats.LiveFights)
	if err != nil {
		return model.PlatformStats{}, fmt.Errorf("live fight count: %w", err)
	}

	return stats, nil
}
