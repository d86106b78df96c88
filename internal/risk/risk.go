package risk

import (
	"math"
	"sync"
	"time"

	"mabot/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	ReasonApproved            = "approved"
	ReasonRecentSellAtOrBelow = "recent_sell_at_or_below"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonSameBandHolding     = "same_band_holding"
)

// BuyContext is the state a buy candidate is checked against.
type BuyContext struct {
	Now      time.Time
	Price    float64
	Quantity int64
	Balance  decimal.Decimal
	Holdings []models.Holding
}

func (c BuyContext) Notional() decimal.Decimal {
	return decimal.NewFromFloat(c.Price).Mul(decimal.NewFromInt(c.Quantity))
}

type Verdict struct {
	Approved bool
	Reason   string
}

// Gate runs the cheap buy checks in order: recent sells, balance, band.
type Gate struct {
	Memory  *SellMemory
	BandPct float64
	Log     zerolog.Logger
}

func (g Gate) Evaluate(ctx BuyContext) Verdict {
	notional := ctx.Notional()
	g.Log.Debug().Float64("price", ctx.Price).Int64("qty", ctx.Quantity).Str("notional", notional.String()).Msg("risk evaluation")

	if g.Memory != nil && g.Memory.SoldAtOrBelow(ctx.Price, ctx.Now) {
		return g.reject(ReasonRecentSellAtOrBelow)
	}
	if ctx.Balance.LessThan(notional) {
		g.Log.Debug().Str("balance", ctx.Balance.String()).Msg("risk rejected: " + ReasonInsufficientBalance)
		return Verdict{Reason: ReasonInsufficientBalance}
	}
	low, high := Band(ctx.Price, g.BandPct)
	for _, h := range ctx.Holdings {
		if !h.Status.IsOpen() {
			continue
		}
		buy := h.BuyPrice.InexactFloat64()
		if buy >= low && buy <= high {
			g.Log.Debug().Str("holding", h.HoldingID).Float64("low", low).Float64("high", high).Msg("risk rejected: " + ReasonSameBandHolding)
			return Verdict{Reason: ReasonSameBandHolding}
		}
	}
	return Verdict{Approved: true, Reason: ReasonApproved}
}

func (g Gate) reject(reason string) Verdict {
	g.Log.Debug().Msg("risk rejected: " + reason)
	return Verdict{Reason: reason}
}

// Band returns the price band centred on price whose width is pct of price,
// rounded to cents.
func Band(price, pct float64) (low, high float64) {
	size := math.Round(price*pct*100) / 100
	low = price - size/2
	return low, low + size
}

type soldAt struct {
	price float64
	at    time.Time
}

// SellMemory remembers recent sell prices for a fixed time.
type SellMemory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries []soldAt
}

func NewSellMemory(ttl time.Duration) *SellMemory {
	return &SellMemory{ttl: ttl}
}

func (m *SellMemory) Remember(price float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, soldAt{price: price, at: at})
}

// SoldAtOrBelow drops expired entries and reports whether any remaining sell
// was at or below price.
func (m *SellMemory) SoldAtOrBelow(price float64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if now.Sub(e.at) <= m.ttl {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	for _, e := range m.entries {
		if e.price <= price {
			return true
		}
	}
	return false
}

func (m *SellMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
