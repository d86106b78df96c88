package risk

import (
	"testing"
	"time"

	"mabot/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var now = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func holdingAt(price string, status models.HoldingStatus) models.Holding {
	return models.Holding{HoldingID: "h-" + price, Status: status, Quantity: 100, BuyPrice: decimal.RequireFromString(price)}
}

func TestGateRejectsRecentSellAtOrBelow(t *testing.T) {
	memory := NewSellMemory(10 * 24 * time.Hour)
	memory.Remember(99.5, now.Add(-time.Hour))
	gate := Gate{Memory: memory, BandPct: 0.05, Log: zerolog.Nop()}

	v := gate.Evaluate(BuyContext{Now: now, Price: 100, Quantity: 200, Balance: decimal.NewFromInt(100000)})
	if v.Approved || v.Reason != ReasonRecentSellAtOrBelow {
		t.Fatalf("expected recent sell rejection, got %+v", v)
	}
}

func TestGateIgnoresExpiredSells(t *testing.T) {
	memory := NewSellMemory(10 * 24 * time.Hour)
	memory.Remember(99.5, now.Add(-11*24*time.Hour))
	gate := Gate{Memory: memory, BandPct: 0.05, Log: zerolog.Nop()}

	v := gate.Evaluate(BuyContext{Now: now, Price: 100, Quantity: 200, Balance: decimal.NewFromInt(100000)})
	if !v.Approved {
		t.Fatalf("expected approval, got %+v", v)
	}
	if memory.Len() != 0 {
		t.Fatalf("expected expired entry to be pruned, have %d", memory.Len())
	}
}

func TestGateAllowsBuyBelowRecentSells(t *testing.T) {
	memory := NewSellMemory(10 * 24 * time.Hour)
	memory.Remember(101, now.Add(-time.Hour))
	gate := Gate{Memory: memory, BandPct: 0.05, Log: zerolog.Nop()}

	v := gate.Evaluate(BuyContext{Now: now, Price: 100, Quantity: 200, Balance: decimal.NewFromInt(100000)})
	if !v.Approved {
		t.Fatalf("expected approval, got %+v", v)
	}
}

func TestGateRejectsInsufficientBalance(t *testing.T) {
	gate := Gate{BandPct: 0.05, Log: zerolog.Nop()}
	v := gate.Evaluate(BuyContext{Now: now, Price: 100, Quantity: 200, Balance: decimal.NewFromInt(19999)})
	if v.Approved || v.Reason != ReasonInsufficientBalance {
		t.Fatalf("expected balance rejection, got %+v", v)
	}
}

func TestGateRejectsHoldingInSameBand(t *testing.T) {
	gate := Gate{BandPct: 0.05, Log: zerolog.Nop()}
	ctx := BuyContext{
		Now:      now,
		Price:    100,
		Quantity: 200,
		Balance:  decimal.NewFromInt(100000),
		Holdings: []models.Holding{holdingAt("102.5", models.HoldingHolding)},
	}
	v := gate.Evaluate(ctx)
	if v.Approved || v.Reason != ReasonSameBandHolding {
		t.Fatalf("expected band rejection, got %+v", v)
	}
}

func TestGateCountsBuyingHoldingsInBand(t *testing.T) {
	gate := Gate{BandPct: 0.05, Log: zerolog.Nop()}
	ctx := BuyContext{
		Now:      now,
		Price:    100,
		Quantity: 200,
		Balance:  decimal.NewFromInt(100000),
		Holdings: []models.Holding{holdingAt("97.5", models.HoldingBuying)},
	}
	if v := gate.Evaluate(ctx); v.Reason != ReasonSameBandHolding {
		t.Fatalf("expected band rejection, got %+v", v)
	}
}

func TestGateSkipsClosedHoldings(t *testing.T) {
	gate := Gate{BandPct: 0.05, Log: zerolog.Nop()}
	ctx := BuyContext{
		Now:      now,
		Price:    100,
		Quantity: 200,
		Balance:  decimal.NewFromInt(100000),
		Holdings: []models.Holding{
			holdingAt("100", models.HoldingDeleted),
			holdingAt("100", models.HoldingSold),
			holdingAt("103", models.HoldingHolding),
		},
	}
	if v := gate.Evaluate(ctx); !v.Approved {
		t.Fatalf("expected approval, got %+v", v)
	}
}

func TestBand(t *testing.T) {
	low, high := Band(100, 0.05)
	if low != 97.5 || high != 102.5 {
		t.Fatalf("expected [97.5, 102.5], got [%v, %v]", low, high)
	}
}
