// Package pnl turns an ordered trade sequence plus a price snapshot into
// realized/unrealized PnL, fees, margin and exposure for one participant.
// All functions are pure: no clock, no storage, no globals.
package pnl

import (
	"FightEngine/internal/model"

	"github.com/shopspring/decimal"
)

// ResidualEpsilon is the quantity below which a position is treated as
// closed. Venue quantity precision is 1e-6, so anything under 1e-7 is
// rounding residue.
var ResidualEpsilon = decimal.New(1, -7)

var hundred = decimal.NewFromInt(100)

// fallbackLeverage is the static per-symbol leverage used when no trade
// in the sequence carried an opening-leverage marker for the symbol.
var fallbackLeverage = map[string]decimal.Decimal{
	"BTCUSDT": decimal.NewFromInt(20),
	"ETHUSDT": decimal.NewFromInt(20),
	"SOLUSDT": decimal.NewFromInt(10),
}

var defaultLeverage = decimal.NewFromInt(10)

// Result is the computed state for one participant in one fight.
type Result struct {
	RealizedPnl   decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Fees          decimal.Decimal
	MarginUsed    decimal.Decimal
	PositionValue decimal.Decimal
	TradeCount    int

	// CumulativeOpeningNotional is the total notional ever committed
	// through opening fills. It never decreases as positions close, so
	// it anchors the score denominator.
	CumulativeOpeningNotional decimal.Decimal
}

// TotalPnl is the live score numerator: realized plus unrealized, net of
// recognized fees.
func (r Result) TotalPnl() decimal.Decimal {
	return r.RealizedPnl.Add(r.UnrealizedPnl).Sub(r.Fees)
}

// RealizedNet is the settlement score numerator: realized only, net of
// recognized fees. Unrealized PnL never counts toward a final score.
func (r Result) RealizedNet() decimal.Decimal {
	return r.RealizedPnl.Sub(r.Fees)
}

// position is the running per-symbol state while folding trades.
type position struct {
	qty      decimal.Decimal // signed: >0 long, <0 short
	cost     decimal.Decimal // absolute cost basis of the open quantity
	openFees decimal.Decimal // fees paid to open the current quantity
	leverage decimal.Decimal // leverage of the most recent opening fill
}

func (p *position) entryPrice() decimal.Decimal {
	absQty := p.qty.Abs()
	if absQty.Sign() == 0 {
		return decimal.Zero
	}
	return p.cost.Div(absQty)
}

// Compute folds trades in execution order into a Result. marks supplies
// the current mark price per symbol; a nil or incomplete map values any
// residual position at its entry price (zero unrealized PnL), which is
// exactly what final settlement wants.
func Compute(trades []model.Trade, marks map[string]decimal.Decimal) Result {
	res := Result{
		RealizedPnl:               decimal.Zero,
		UnrealizedPnl:             decimal.Zero,
		Fees:                      decimal.Zero,
		MarginUsed:                decimal.Zero,
		PositionValue:             decimal.Zero,
		CumulativeOpeningNotional: decimal.Zero,
	}

	positions := make(map[string]*position)

	for i := range trades {
		t := &trades[i]
		res.TradeCount++

		// A zero-quantity row moves nothing and would poison the
		// pro-rating divisions below; skip it.
		if t.Quantity.Sign() <= 0 {
			continue
		}

		pos, ok := positions[t.Symbol]
		if !ok {
			pos = &position{
				qty:      decimal.Zero,
				cost:     decimal.Zero,
				openFees: decimal.Zero,
				leverage: decimal.Zero,
			}
			positions[t.Symbol] = pos
		}

		signedQty := t.SignedQuantity()

		if pos.qty.Sign() == 0 || pos.qty.Sign() == signedQty.Sign() {
			applyOpen(&res, pos, t, t.Quantity)
			continue
		}

		// Opposite direction: the overlap closes, any excess flips.
		absPos := pos.qty.Abs()
		closedQty := decimal.Min(absPos, t.Quantity)

		res.RealizedPnl = res.RealizedPnl.Add(realizedForClose(pos, t, closedQty))

		// Fees are recognized only when quantity closes: this fill's fee
		// pro-rated by the closing portion, plus the share of opening
		// fees originally paid for the closed quantity.
		closeFraction := closedQty.Div(absPos)
		closingFee := t.Fee.Mul(closedQty).Div(t.Quantity)
		openFeeShare := pos.openFees.Mul(closeFraction)
		res.Fees = res.Fees.Add(closingFee).Add(openFeeShare)

		pos.openFees = pos.openFees.Sub(openFeeShare)
		pos.cost = pos.cost.Sub(pos.cost.Mul(closeFraction))
		pos.qty = pos.qty.Add(signedQty)

		remainder := t.Quantity.Sub(closedQty)
		if remainder.Sign() > 0 {
			// Flip: the excess opens a fresh position in the fill's
			// direction. The flipped portion contributes no realized PnL.
			pos.qty = remainder
			if t.Side == model.SideSell {
				pos.qty = remainder.Neg()
			}
			pos.cost = remainder.Mul(t.Price)
			pos.openFees = t.Fee.Mul(remainder).Div(t.Quantity)
			if t.IsOpening() {
				pos.leverage = *t.OpenLeverage
			}
			res.CumulativeOpeningNotional = res.CumulativeOpeningNotional.Add(remainder.Mul(t.Price))
		} else if pos.qty.Abs().LessThan(ResidualEpsilon) {
			// Fully closed: clear rounding residue so a later fill
			// starts from a clean flat position.
			pos.qty = decimal.Zero
			pos.cost = decimal.Zero
			pos.openFees = decimal.Zero
		}
	}

	for symbol, pos := range positions {
		if pos.qty.Abs().LessThanOrEqual(ResidualEpsilon) {
			continue
		}

		entry := pos.entryPrice()
		mark, ok := marks[symbol]
		if !ok || mark.Sign() <= 0 {
			mark = entry
		}

		// Signed quantity carries direction: longs profit as price
		// rises, shorts as it falls.
		res.UnrealizedPnl = res.UnrealizedPnl.Add(mark.Sub(entry).Mul(pos.qty))

		value := pos.qty.Abs().Mul(mark)
		res.PositionValue = res.PositionValue.Add(value)
		res.MarginUsed = res.MarginUsed.Add(value.Div(effectiveLeverage(symbol, pos.leverage)))
	}

	return res
}

// applyOpen books qty of the fill as pure position-building: weighted
// average cost moves, opening notional accrues, realized PnL does not.
func applyOpen(res *Result, pos *position, t *model.Trade, qty decimal.Decimal) {
	notional := qty.Mul(t.Price)
	pos.cost = pos.cost.Add(notional)
	pos.openFees = pos.openFees.Add(t.Fee)
	if t.Side == model.SideSell {
		pos.qty = pos.qty.Sub(qty)
	} else {
		pos.qty = pos.qty.Add(qty)
	}
	if t.IsOpening() {
		pos.leverage = *t.OpenLeverage
	}
	res.CumulativeOpeningNotional = res.CumulativeOpeningNotional.Add(notional)
}

// realizedForClose computes the realized PnL of the closing overlap.
// The venue-reported figure wins when present (pro-rated by the fraction
// of this fill that actually closed); otherwise it is price difference
// times closed quantity, signed by position direction.
func realizedForClose(pos *position, t *model.Trade, closedQty decimal.Decimal) decimal.Decimal {
	if t.RealizedPnl.Sign() != 0 {
		return t.RealizedPnl.Mul(closedQty).Div(t.Quantity)
	}

	diff := t.Price.Sub(pos.entryPrice())
	if pos.qty.Sign() < 0 {
		diff = diff.Neg()
	}
	return diff.Mul(closedQty)
}

func effectiveLeverage(symbol string, recorded decimal.Decimal) decimal.Decimal {
	if recorded.Sign() > 0 {
		return recorded
	}
	if lev, ok := fallbackLeverage[symbol]; ok {
		return lev
	}
	return defaultLeverage
}

// ScorePercent is the ROI of a participant: pnl over the largest capital
// commitment ever observed, as a percentage. The denominator is the max
// of current margin, the stored max exposure and cumulative opening
// notional, so closing positions down to zero margin can never inflate
// the score. A non-positive denominator yields zero, never NaN or Inf.
func ScorePercent(pnl, currentMargin, recordedMaxExposure, cumulativeOpeningNotional decimal.Decimal) decimal.Decimal {
	denom := decimal.Max(currentMargin, recordedMaxExposure, cumulativeOpeningNotional)
	if denom.Sign() <= 0 {
		return decimal.Zero
	}
	return pnl.Div(denom).Mul(hundred)
}
