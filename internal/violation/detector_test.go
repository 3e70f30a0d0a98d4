package violation

import (
	"testing"
	"time"

	"FightEngine/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func lev(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func mkTrade(symbol string, side model.TradeSide, qty string, leverage *decimal.Decimal) model.Trade {
	q, _ := decimal.NewFromString(qty)
	return model.Trade{
		ID:           uuid.New(),
		Symbol:       symbol,
		Side:         side,
		Quantity:     q,
		Price:        decimal.NewFromInt(100),
		OpenLeverage: leverage,
		ExecutedAt:   time.Now(),
	}
}

func TestDetectCleanSequence(t *testing.T) {
	report := Detect([]model.Trade{
		mkTrade("BTCUSDT", model.SideBuy, "1", lev(20)),
		mkTrade("BTCUSDT", model.SideSell, "1", nil),
	})

	if report.Violated {
		t.Fatalf("clean open/close flagged: %+v", report)
	}
}

func TestDetectExcessClosingVolume(t *testing.T) {
	closer := mkTrade("BTCUSDT", model.SideSell, "2", nil)

	report := Detect([]model.Trade{
		mkTrade("BTCUSDT", model.SideBuy, "1", lev(20)),
		closer,
	})

	if !report.Violated {
		t.Fatal("excess closing volume not flagged")
	}
	if len(report.OffendingSymbols) != 1 || report.OffendingSymbols[0] != "BTCUSDT" {
		t.Fatalf("unexpected symbols: %v", report.OffendingSymbols)
	}

	found := false
	for _, id := range report.OffendingTradeIDs {
		if id == closer.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("closing trade %s not in offending ids %v", closer.ID, report.OffendingTradeIDs)
	}
}

func TestDetectClosingOnlyIsViolation(t *testing.T) {
	// A close with no opening trade in the ledger means the position was
	// built outside the fight's order path.
	report := Detect([]model.Trade{
		mkTrade("ETHUSDT", model.SideSell, "1", nil),
	})

	if !report.Violated {
		t.Fatal("closing without opening not flagged")
	}
}

func TestDetectToleratesRoundingDust(t *testing.T) {
	report := Detect([]model.Trade{
		mkTrade("BTCUSDT", model.SideBuy, "1", lev(20)),
		mkTrade("BTCUSDT", model.SideSell, "1.00000001", nil),
	})

	if report.Violated {
		t.Fatalf("rounding dust flagged: %+v", report)
	}
}

func TestDetectPerSymbolIndependence(t *testing.T) {
	report := Detect([]model.Trade{
		mkTrade("BTCUSDT", model.SideBuy, "5", lev(20)),
		mkTrade("BTCUSDT", model.SideSell, "1", nil),
		mkTrade("ETHUSDT", model.SideSell, "1", nil),
	})

	if !report.Violated {
		t.Fatal("ETHUSDT excess not flagged")
	}
	if len(report.OffendingSymbols) != 1 || report.OffendingSymbols[0] != "ETHUSDT" {
		t.Fatalf("unexpected symbols: %v", report.OffendingSymbols)
	}
}

func TestDetectEmptyLedger(t *testing.T) {
	report := Detect(nil)
	if report.Violated {
		t.Fatal("empty ledger flagged")
	}
}
