// Package violation flags participants whose ledger shows more closing
// volume than opening volume on an instrument — a position must have
// been opened outside the fight's own order path.
package violation

import (
	"sort"

	"FightEngine/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VolumeEpsilon absorbs venue quantity rounding when comparing opening
// and closing volume per instrument.
var VolumeEpsilon = decimal.New(1, -7)

// Report is the outcome of one detection pass over a participant's raw
// trade rows.
type Report struct {
	Violated          bool
	OffendingSymbols  []string
	OffendingTradeIDs []uuid.UUID
}

type symbolVolume struct {
	opening decimal.Decimal
	closing decimal.Decimal
	closers []uuid.UUID
}

// Detect sums per-instrument volume on trades carrying the opening
// marker against trades without it. Closing volume exceeding opening
// volume beyond VolumeEpsilon flags the participant. Detection is pure
// and repeatable; callers keep the flag sticky by skipping participants
// already flagged.
func Detect(trades []model.Trade) Report {
	volumes := make(map[string]*symbolVolume)

	for i := range trades {
		t := &trades[i]
		v, ok := volumes[t.Symbol]
		if !ok {
			v = &symbolVolume{opening: decimal.Zero, closing: decimal.Zero}
			volumes[t.Symbol] = v
		}
		if t.IsOpening() {
			v.opening = v.opening.Add(t.Quantity)
		} else {
			v.closing = v.closing.Add(t.Quantity)
			v.closers = append(v.closers, t.ID)
		}
	}

	var report Report
	for symbol, v := range volumes {
		if v.closing.Sub(v.opening).GreaterThan(VolumeEpsilon) {
			report.Violated = true
			report.OffendingSymbols = append(report.OffendingSymbols, symbol)
			report.OffendingTradeIDs = append(report.OffendingTradeIDs, v.closers...)
		}
	}

	// Map iteration order is random; keep the report stable for
	// persistence and notifications.
	sort.Strings(report.OffendingSymbols)

	return report
}
