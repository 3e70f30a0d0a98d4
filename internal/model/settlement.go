package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParticipantFinal carries one participant's frozen result into the
// settlement commit transaction.
type ParticipantFinal struct {
	UserID     uuid.UUID
	FinalScore decimal.Decimal
	FinalPnl   decimal.Decimal
	TradeCount int
}

// SettlementResult is the authoritative outcome written atomically when
// a fight reaches a terminal state.
type SettlementResult struct {
	FightID  uuid.UUID
	Status   FightStatus // FINISHED or NO_CONTEST
	WinnerID *uuid.UUID
	IsDraw   bool
	EndedAt  time.Time
	Finals   []ParticipantFinal
}

// Snapshot is a point-in-time copy of a fight's score state, retained
// for historical PnL graphs and pruned after a fixed age.
type Snapshot struct {
	FightID  uuid.UUID
	TakenAt  time.Time
	LeaderID *uuid.UUID
	State    SnapshotState
}

// SnapshotState is the JSON payload of a snapshot row.
type SnapshotState struct {
	Participants     []SnapshotParticipant `json:"participants"`
	TimeRemainingSec int64                 `json:"time_remaining_sec"`
}

// SnapshotParticipant is one side's score state inside a snapshot.
type SnapshotParticipant struct {
	UserID     uuid.UUID       `json:"user_id"`
	Slot       Slot            `json:"slot"`
	Score      decimal.Decimal `json:"score"`
	Pnl        decimal.Decimal `json:"pnl"`
	TradeCount int             `json:"trade_count"`
}

// PlatformStats is the periodic cross-fight aggregate published to the
// platform-wide feed.
type PlatformStats struct {
	TotalVolume decimal.Decimal `json:"total_volume"`
	TotalFees   decimal.Decimal `json:"total_fees"`
	Traders     int64           `json:"traders"`
	LiveFights  int64           `json:"live_fights"`
	At          time.Time       `json:"at"`
}
