package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"FightEngine/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParticipantStore reads and mutates fight participant rows.
type ParticipantStore struct {
	db *sql.DB
}

func NewParticipantStore(db *sql.DB) *ParticipantStore {
	return &ParticipantStore{db: db}
}

// ListParticipants returns both sides of a fight, slot A first.
func (s *ParticipantStore) ListParticipants(ctx context.Context, fightID uuid.UUID) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fight_id, user_id, slot, max_exposure, final_score, final_pnl,
		       trade_count, violated, violation_trade_ids
		FROM fight_participants
		WHERE fight_id = $1
		ORDER BY slot`,
		fightID)
	if err != nil {
		return nil, fmt.Errorf("list participants %s: %w", fightID, err)
	}
	defer rows.Close()

	var parts []model.Participant
	for rows.Next() {
		var p model.Participant
		var tradeIDs []byte
		err := rows.Scan(
			&p.FightID, &p.UserID, &p.Slot, &p.MaxExposure, &p.FinalScore,
			&p.FinalPnl, &p.TradeCount, &p.Violated, &tradeIDs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if len(tradeIDs) > 0 {
			if err := json.Unmarshal(tradeIDs, &p.ViolationTradeIDs); err != nil {
				return nil, fmt.Errorf("decode violation trade ids: %w", err)
			}
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// RaiseMaxExposure lifts the recorded max exposure, never lowering it.
// GREATEST keeps the score denominator monotonic even when two instances
// race on the same participant.
func (s *ParticipantStore) RaiseMaxExposure(ctx context.Context, fightID, userID uuid.UUID, exposure decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fight_participants
		SET max_exposure = GREATEST(max_exposure, $1)
		WHERE fight_id = $2 AND user_id = $3`,
		exposure, fightID, userID)
	if err != nil {
		return fmt.Errorf("raise max exposure %s/%s: %w", fightID, userID, err)
	}
	return nil
}

// RecordViolation persists the sticky violation flag plus the offending
// trade identifiers. The flag only ever turns on.
func (s *ParticipantStore) RecordViolation(ctx context.Context, fightID, userID uuid.UUID, tradeIDs []uuid.UUID) error {
	encoded, err := json.Marshal(tradeIDs)
	if err != nil {
		return fmt.Errorf("encode violation trade ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE fight_participants
		SET violated = TRUE, violation_trade_ids = $1
		WHERE fight_id = $2 AND user_id = $3 AND violated = FALSE`,
		encoded, fightID, userID)
	if err != nil {
		return fmt.Errorf("record violation %s/%s: %w", fightID, userID, err)
	}
	return nil
}
