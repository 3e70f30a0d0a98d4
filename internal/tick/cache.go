package tick

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParticipantState is one side's live score line within a tick.
type ParticipantState struct {
	UserID        uuid.UUID       `json:"user_id"`
	Slot          string          `json:"slot"`
	Score         decimal.Decimal `json:"score"`
	Pnl           decimal.Decimal `json:"pnl"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	Fees          decimal.Decimal `json:"fees"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	TradeCount    int             `json:"trade_count"`
	Violated      bool            `json:"violated"`
}

// State is the full computed picture of one fight at one tick. It is
// what subscribers receive and what the live cache holds between ticks.
type State struct {
	FightID          uuid.UUID          `json:"fight_id"`
	TimeRemainingSec int64              `json:"time_remaining_sec"`
	LeaderID         *uuid.UUID         `json:"leader_id"`
	IsTied           bool               `json:"is_tied"`
	Participants     []ParticipantState `json:"participants"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// LiveCache keeps the last computed state per live fight, plus the
// warn-once marker for the ending-soon event. Dropped on settlement.
type LiveCache struct {
	mu     sync.RWMutex
	states map[uuid.UUID]State
	warned map[uuid.UUID]struct{}
}

func NewLiveCache() *LiveCache {
	return &LiveCache{
		states: make(map[uuid.UUID]State),
		warned: make(map[uuid.UUID]struct{}),
	}
}

func (c *LiveCache) Put(s State) {
	c.mu.Lock()
	c.states[s.FightID] = s
	c.mu.Unlock()
}

func (c *LiveCache) Get(id uuid.UUID) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[id]
	return s, ok
}

// All returns a copy of every cached state, for the aggregate feed.
func (c *LiveCache) All() []State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]State, 0, len(c.states))
	for _, s := range c.states {
		out = append(out, s)
	}
	return out
}

// MarkWarned records the ending-soon warning for a fight and reports
// whether this call was the first. The warning fires exactly once per
// fight per process.
func (c *LiveCache) MarkWarned(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.warned[id]; ok {
		return false
	}
	c.warned[id] = struct{}{}
	return true
}

// Drop evicts a fight's state and warning marker once it is terminal.
func (c *LiveCache) Drop(id uuid.UUID) {
	c.mu.Lock()
	delete(c.states, id)
	delete(c.warned, id)
	c.mu.Unlock()
}
