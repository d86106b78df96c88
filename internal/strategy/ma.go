package strategy

import (
	"fmt"
	"strings"
	"time"

	"mabot/internal/fees"
	"mabot/internal/models"
	"mabot/internal/risk"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// TraderName is stamped on every decision the moving-average engine emits.
const TraderName = "simple_ma_trade_alg"

// Params holds every tunable of the moving-average engine.
type Params struct {
	Trend TrendParams

	LotSize         int64
	MinOrderValue   float64
	BandPct         float64
	ProfitThreshold float64

	TrendPercentile   float64
	DownTrendFraction float64
	UpTrendFraction   float64

	MinWaitSamples      int
	PeriodsPerSession   float64
	MaxMeanWaitSessions float64
	MaxWaitSessions     float64
	WaitPercentile      float64

	SellMemoryTTL time.Duration
}

func DefaultParams() Params {
	return Params{
		Trend:               TrendParams{ShortWindow: 3, LongWindow: 10, SmoothWindow: 60},
		LotSize:             100,
		MinOrderValue:       20000,
		BandPct:             0.05,
		ProfitThreshold:     0.005,
		TrendPercentile:     80,
		DownTrendFraction:   0.66,
		UpTrendFraction:     0.33,
		MinWaitSamples:      11,
		PeriodsPerSession:   330,
		MaxMeanWaitSessions: 10,
		MaxWaitSessions:     20,
		WaitPercentile:      90,
		SellMemoryTTL:       10 * 24 * time.Hour,
	}
}

// MovingAverage sells lots that cleared their fees and buys on a dip inside
// a downtrend or early in an uptrend, when history says the price recovers fast.
type MovingAverage struct {
	params Params
	memory *risk.SellMemory
	gate   risk.Gate
	log    zerolog.Logger
}

func NewMovingAverage(params Params, log zerolog.Logger) *MovingAverage {
	memory := risk.NewSellMemory(params.SellMemoryTTL)
	log = log.With().Str("component", "strategy").Logger()
	return &MovingAverage{
		params: params,
		memory: memory,
		gate:   risk.Gate{Memory: memory, BandPct: params.BandPct, Log: log},
		log:    log,
	}
}

func (m *MovingAverage) Decide(in Input) Result {
	var res Result
	for _, h := range in.Holdings {
		if h.Status != models.HoldingHolding {
			continue
		}
		price := decimal.NewFromFloat(in.Price)
		if price.LessThan(fees.ExpectedSellPrice(h.BuyPrice, h.Quantity)) {
			continue
		}
		res.Decisions = append(res.Decisions, m.sellDecision(h, price))
		m.memory.Remember(in.Price, in.Time)
	}

	buy, outcome := m.evaluateBuy(in)
	res.BuyOutcome = outcome
	if outcome == OutcomeBuy {
		res.Decisions = append(res.Decisions, buy)
	}
	return res
}

func (m *MovingAverage) evaluateBuy(in Input) (Decision, Outcome) {
	if in.Price <= 0 {
		return Decision{}, OutcomeInvalidPrice
	}
	qty := m.params.LotSize
	for float64(qty)*in.Price < m.params.MinOrderValue {
		qty += m.params.LotSize
	}

	verdict := m.gate.Evaluate(risk.BuyContext{
		Now:      in.Time,
		Price:    in.Price,
		Quantity: qty,
		Balance:  in.Balance,
		Holdings: in.Holdings,
	})
	if !verdict.Approved {
		return Decision{}, Outcome(verdict.Reason)
	}

	trend, ok := AnalyzeTrend(in.History, m.params.Trend)
	if !ok || len(trend.History) == 0 {
		return Decision{}, OutcomeInsufficientHistory
	}
	typical := Percentile(toFloats(trend.History), m.params.TrendPercentile)
	elapsed := float64(trend.Elapsed)
	if trend.Regime == RegimeDown && elapsed <= typical*m.params.DownTrendFraction {
		return Decision{}, OutcomeEarlyDowntrend
	}
	if trend.Regime == RegimeUp && elapsed >= typical*m.params.UpTrendFraction {
		return Decision{}, OutcomeLateUptrend
	}

	low, high := risk.Band(in.Price, m.params.BandPct)
	samples := WaitTimeSamples(in.History, low, high, m.params.ProfitThreshold)
	if len(samples) < m.params.MinWaitSamples {
		return Decision{}, OutcomeTooFewSamples
	}
	mean := stat.Mean(samples, nil)
	tail := Percentile(samples, m.params.WaitPercentile)
	if mean > m.params.PeriodsPerSession*m.params.MaxMeanWaitSessions || tail > m.params.PeriodsPerSession*m.params.MaxWaitSessions {
		m.log.Debug().Float64("mean", mean).Float64("tail", tail).Msg("expected wait too long")
		return Decision{}, OutcomeWaitTooLong
	}

	d := m.buyDecision(in, qty)
	d.Detail = map[string]any{
		"regime":       trend.Regime.String(),
		"elapsed":      trend.Elapsed,
		"typical":      typical,
		"wait_samples": len(samples),
		"wait_mean":    mean,
		"wait_tail":    tail,
	}
	return d, OutcomeBuy
}

func (m *MovingAverage) buyDecision(in Input, qty int64) Decision {
	price := decimal.NewFromFloat(in.Price)
	id := NewHoldingID(in.Time, price)
	return Decision{
		Side:       models.SideBuy,
		Instrument: in.Instrument,
		Price:      price,
		Quantity:   qty,
		HoldingID:  id,
		Trader:     TraderName,
		Note:       fmt.Sprintf("buy-%s:%s", id, price),
	}
}

func (m *MovingAverage) sellDecision(h models.Holding, price decimal.Decimal) Decision {
	return Decision{
		Side:       models.SideSell,
		Instrument: h.Instrument,
		Price:      price,
		Quantity:   h.Quantity,
		HoldingID:  h.HoldingID,
		Trader:     TraderName,
		Note:       fmt.Sprintf("sell-%s:%s", h.HoldingID, price),
	}
}

// NewHoldingID builds a lot id from the tick time, a random suffix and the
// buy price, e.g. 20240304_100000.3f2a9c1e_415.2.
func NewHoldingID(t time.Time, price decimal.Decimal) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s.%s_%s", t.Format("20060102_150405"), suffix, price)
}
