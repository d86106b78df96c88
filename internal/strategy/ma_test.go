package strategy

import (
	"strings"
	"testing"
	"time"

	"mabot/internal/models"
	"mabot/internal/risk"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tick = time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC)

func testParams() Params {
	p := DefaultParams()
	p.Trend = stepTrend
	p.MinWaitSamples = 3
	return p
}

// Ends in a three-step downtrend after a two-step one, with three resolved
// wait samples inside the band around 100.
var dipHistory = []float64{100, 101, 100, 99, 100.6, 101, 100, 99, 98}

func buyInput(history []float64) Input {
	return Input{
		Instrument: "AAPL",
		Time:       tick,
		Price:      100,
		Balance:    decimal.NewFromInt(100000),
		History:    history,
	}
}

func TestDecideBuysLateInDowntrend(t *testing.T) {
	engine := NewMovingAverage(testParams(), zerolog.Nop())
	res := engine.Decide(buyInput(dipHistory))

	require.Equal(t, OutcomeBuy, res.BuyOutcome)
	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	require.NoError(t, d.Validate())
	assert.Equal(t, models.SideBuy, d.Side)
	assert.Equal(t, int64(200), d.Quantity)
	assert.True(t, d.Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, strings.HasPrefix(d.HoldingID, "20240304_103000."))
	assert.True(t, strings.HasSuffix(d.HoldingID, "_100"))
	assert.Equal(t, "buy-"+d.HoldingID+":100", d.Note)
	assert.Equal(t, TraderName, d.Trader)
	assert.Equal(t, 3, d.Detail["wait_samples"])
}

func TestDecideSizesToMinimumOrderValue(t *testing.T) {
	engine := NewMovingAverage(testParams(), zerolog.Nop())
	in := buyInput(dipHistory)
	in.Price = 99
	res := engine.Decide(in)
	require.Equal(t, OutcomeBuy, res.BuyOutcome)
	// 200 * 99 < 20000
	assert.Equal(t, int64(300), res.Decisions[0].Quantity)
}

func TestDecideRejectsTooFewWaitSamples(t *testing.T) {
	params := testParams()
	params.MinWaitSamples = 4
	res := NewMovingAverage(params, zerolog.Nop()).Decide(buyInput(dipHistory))
	assert.Equal(t, OutcomeTooFewSamples, res.BuyOutcome)
	assert.Empty(t, res.Decisions)
}

func TestDecideRejectsLongWaits(t *testing.T) {
	params := testParams()
	params.PeriodsPerSession = 0.1
	res := NewMovingAverage(params, zerolog.Nop()).Decide(buyInput(dipHistory))
	assert.Equal(t, OutcomeWaitTooLong, res.BuyOutcome)
}

func TestDecideRejectsEarlyDowntrend(t *testing.T) {
	engine := NewMovingAverage(testParams(), zerolog.Nop())
	res := engine.Decide(buyInput([]float64{100, 99, 98, 97, 96, 97, 96}))
	assert.Equal(t, OutcomeEarlyDowntrend, res.BuyOutcome)
}

func TestDecideRejectsLateUptrend(t *testing.T) {
	engine := NewMovingAverage(testParams(), zerolog.Nop())
	res := engine.Decide(buyInput([]float64{100, 101, 100, 101, 102, 103}))
	assert.Equal(t, OutcomeLateUptrend, res.BuyOutcome)
}

func TestDecideInsufficientHistory(t *testing.T) {
	engine := NewMovingAverage(DefaultParams(), zerolog.Nop())
	res := engine.Decide(buyInput([]float64{100, 101, 102}))
	assert.Equal(t, OutcomeInsufficientHistory, res.BuyOutcome)
	assert.Empty(t, res.Decisions)
}

func TestDecideRejectsInsufficientBalance(t *testing.T) {
	engine := NewMovingAverage(testParams(), zerolog.Nop())
	in := buyInput(dipHistory)
	in.Balance = decimal.NewFromInt(19999)
	res := engine.Decide(in)
	assert.Equal(t, Outcome(risk.ReasonInsufficientBalance), res.BuyOutcome)
}

func TestDecideRejectsSameBandHolding(t *testing.T) {
	engine := NewMovingAverage(testParams(), zerolog.Nop())
	in := buyInput(dipHistory)
	in.Holdings = []models.Holding{{HoldingID: "h1", Instrument: "AAPL", Status: models.HoldingBuying, Quantity: 200, BuyPrice: decimal.NewFromInt(101)}}
	res := engine.Decide(in)
	assert.Equal(t, Outcome(risk.ReasonSameBandHolding), res.BuyOutcome)
}

func TestDecideSellsAtExpectedPriceAndRemembersIt(t *testing.T) {
	engine := NewMovingAverage(testParams(), zerolog.Nop())
	held := models.Holding{HoldingID: "h1", Instrument: "AAPL", Status: models.HoldingHolding, Quantity: 100, BuyPrice: decimal.NewFromInt(200)}

	in := buyInput([]float64{201.79})
	in.Price = 201.79
	in.Holdings = []models.Holding{held}
	res := engine.Decide(in)
	assert.Empty(t, res.Decisions, "one cent below the expected sell price")

	in.Price = 201.8
	res = engine.Decide(in)
	require.Len(t, res.Decisions, 1)
	sell := res.Decisions[0]
	require.NoError(t, sell.Validate())
	assert.Equal(t, models.SideSell, sell.Side)
	assert.Equal(t, "h1", sell.HoldingID)
	assert.Equal(t, int64(100), sell.Quantity)
	assert.Equal(t, "sell-h1:201.8", sell.Note)
	// the buy rule in the same tick already sees the sell
	assert.Equal(t, Outcome(risk.ReasonRecentSellAtOrBelow), res.BuyOutcome)
}

func TestDecideOnlySellsHeldLots(t *testing.T) {
	engine := NewMovingAverage(testParams(), zerolog.Nop())
	in := buyInput(nil)
	in.Price = 300
	in.Holdings = []models.Holding{
		{HoldingID: "buying", Status: models.HoldingBuying, Quantity: 100, BuyPrice: decimal.NewFromInt(200)},
		{HoldingID: "selling", Status: models.HoldingSelling, Quantity: 100, BuyPrice: decimal.NewFromInt(200)},
	}
	res := engine.Decide(in)
	assert.Empty(t, res.Decisions)
}

func TestDecisionValidate(t *testing.T) {
	valid := Decision{Side: models.SideBuy, Instrument: "AAPL", Price: decimal.NewFromInt(10), Quantity: 100}
	require.NoError(t, valid.Validate())

	cases := map[string]func(d *Decision){
		"side":       func(d *Decision) { d.Side = "HOLD" },
		"instrument": func(d *Decision) { d.Instrument = "" },
		"price":      func(d *Decision) { d.Price = decimal.Zero },
		"quantity":   func(d *Decision) { d.Quantity = 0 },
		"holding":    func(d *Decision) { d.Side = models.SideSell },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := valid
			mutate(&d)
			assert.ErrorIs(t, d.Validate(), ErrInvalidDecision)
		})
	}
}
