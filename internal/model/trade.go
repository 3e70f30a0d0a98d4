package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a fill.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Trade is one immutable fill from the append-only ledger. The
// execution pipeline (a collaborator) writes these; this service only
// reads them in execution order.
type Trade struct {
	ID      uuid.UUID
	FightID uuid.UUID
	UserID  uuid.UUID

	Symbol   string
	Side     TradeSide
	Quantity decimal.Decimal
	Price    decimal.Decimal

	// OpenLeverage is present only on trades that open or add to a
	// position. Closing trades carry no marker — this is the sole
	// signal the violation detector relies on.
	OpenLeverage *decimal.Decimal

	// RealizedPnl is the venue-reported realized PnL for this fill,
	// zero when the venue did not report one.
	RealizedPnl decimal.Decimal

	Fee        decimal.Decimal
	ExecutedAt time.Time
}

// SignedQuantity returns the quantity with its directional sign:
// positive for BUY, negative for SELL.
func (t *Trade) SignedQuantity() decimal.Decimal {
	if t.Side == SideSell {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// IsOpening reports whether the fill carries the opening-leverage marker.
func (t *Trade) IsOpening() bool {
	return t.OpenLeverage != nil && t.OpenLeverage.Sign() > 0
}
