package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"FightEngine/internal/model"

	"github.com/google/uuid"
)

// TradeStore reads the append-only trade ledger. The execution pipeline
// owns these rows; this service never writes them.
type TradeStore struct {
	db *sql.DB
}

func NewTradeStore(db *sql.DB) *TradeStore {
	return &TradeStore{db: db}
}

// ListTrades returns a participant's fills in execution order. The id
// tiebreak keeps ordering deterministic for fills sharing a timestamp.
func (s *TradeStore) ListTrades(ctx context.Context, fightID, userID uuid.UUID) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fight_id, user_id, symbol, side, quantity, price,
		       open_leverage, realized_pnl, fee, executed_at
		FROM fight_trades
		WHERE fight_id = $1 AND user_id = $2
		ORDER BY executed_at, id`,
		fightID, userID)
	if err != nil {
		return nil, fmt.Errorf("list trades %s/%s: %w", fightID, userID, err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		err := rows.Scan(
			&t.ID, &t.FightID, &t.UserID, &t.Symbol, &t.Side, &t.Quantity,
			&t.Price, &t.OpenLeverage, &t.RealizedPnl, &t.Fee, &t.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
