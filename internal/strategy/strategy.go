package strategy

import (
	"errors"
	"fmt"
	"time"

	"mabot/internal/models"

	"github.com/shopspring/decimal"
)

var ErrInvalidDecision = errors.New("invalid decision")

// Decision is one trade the engine wants the coordinator to place.
type Decision struct {
	Side       models.Side
	Instrument string
	Price      decimal.Decimal
	Quantity   int64
	HoldingID  string
	Trader     string
	Note       string
	Detail     map[string]any
}

func (d Decision) Validate() error {
	if d.Side != models.SideBuy && d.Side != models.SideSell {
		return fmt.Errorf("%w: side %q", ErrInvalidDecision, d.Side)
	}
	if d.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrInvalidDecision)
	}
	if !d.Price.IsPositive() {
		return fmt.Errorf("%w: price %s", ErrInvalidDecision, d.Price)
	}
	if d.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidDecision, d.Quantity)
	}
	if d.Side == models.SideSell && d.HoldingID == "" {
		return fmt.Errorf("%w: sell without holding id", ErrInvalidDecision)
	}
	return nil
}

func (d Decision) String() string {
	return fmt.Sprintf("%s: %s %s %d * %s id=%s note=%s", d.Trader, d.Side, d.Instrument, d.Quantity, d.Price.StringFixed(2), d.HoldingID, d.Note)
}

// Input is everything the engine looks at for one tick.
type Input struct {
	Instrument string
	Time       time.Time
	Price      float64
	Balance    decimal.Decimal
	History    []float64
	Holdings   []models.Holding
}

// Outcome says why the buy rule did or did not produce a decision.
type Outcome string

const (
	OutcomeBuy                 Outcome = "buy"
	OutcomeInvalidPrice        Outcome = "invalid_price"
	OutcomeInsufficientHistory Outcome = "insufficient_history"
	OutcomeEarlyDowntrend      Outcome = "early_downtrend"
	OutcomeLateUptrend         Outcome = "late_uptrend"
	OutcomeTooFewSamples       Outcome = "too_few_wait_samples"
	OutcomeWaitTooLong         Outcome = "expected_wait_too_long"
)

// Result carries the decisions for a tick and the outcome of the buy rule.
type Result struct {
	Decisions  []Decision
	BuyOutcome Outcome
}

type Strategy interface {
	Decide(in Input) Result
}
