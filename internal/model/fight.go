package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FightStatus is the lifecycle state of a competition.
// Transitions are monotonic: WAITING→LIVE→{FINISHED|NO_CONTEST},
// or {WAITING|LIVE}→CANCELLED. They never reverse.
type FightStatus string

const (
	StatusWaiting   FightStatus = "WAITING"
	StatusLive      FightStatus = "LIVE"
	StatusFinished  FightStatus = "FINISHED"
	StatusNoContest FightStatus = "NO_CONTEST"
	StatusCancelled FightStatus = "CANCELLED"
)

// Terminal reports whether the status can no longer change.
func (s FightStatus) Terminal() bool {
	return s == StatusFinished || s == StatusNoContest || s == StatusCancelled
}

// Slot identifies the two participant positions in a fight.
type Slot string

const (
	SlotA Slot = "A"
	SlotB Slot = "B"
)

// Fight is a timed two-party trading competition. Created by the
// challenge-acceptance flow (a collaborator), started by the tick
// orchestrator, finalized exactly once by the settlement coordinator.
type Fight struct {
	ID        uuid.UUID
	Status    FightStatus
	Stake     decimal.Decimal
	Duration  time.Duration
	StartedAt *time.Time
	EndedAt   *time.Time
	WinnerID  *uuid.UUID
	IsDraw    bool

	// Settlement lock: cross-instance mutual exclusion. A holder
	// whose lock is older than the staleness bound may be displaced.
	SettleLockHolder *string
	SettleLockedAt   *time.Time

	CreatedAt time.Time
}

// TimeRemaining returns how much of the fight's duration is left,
// floored at zero. A fight that has not started has its full duration
// remaining.
func (f *Fight) TimeRemaining(now time.Time) time.Duration {
	if f.StartedAt == nil {
		return f.Duration
	}
	remaining := f.StartedAt.Add(f.Duration).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Participant is one side of a fight.
type Participant struct {
	FightID uuid.UUID
	UserID  uuid.UUID
	Slot    Slot

	// MaxExposure is the highest capital commitment ever observed for
	// this participant. It only grows; the score denominator never
	// shrinks below it.
	MaxExposure decimal.Decimal

	FinalScore decimal.Decimal // ROI percent at settlement
	FinalPnl   decimal.Decimal
	TradeCount int

	Violated          bool
	ViolationTradeIDs []uuid.UUID
}

// PriceQuote is a transient per-tick price for one instrument.
type PriceQuote struct {
	Symbol string          `json:"symbol"`
	Mark   decimal.Decimal `json:"mark"`
	Oracle decimal.Decimal `json:"oracle"`
}
