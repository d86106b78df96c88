package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mabot/internal/fees"
	"mabot/internal/ledger"
	"mabot/internal/md"
	"mabot/internal/models"
	"mabot/internal/store"
	"mabot/internal/strategy"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var ErrSubmitFailed = errors.New("order submission failed")

// Execution places orders at a venue and returns the venue's order id.
type Execution interface {
	Submit(ctx context.Context, order models.Order) (string, error)
}

// Canceler is implemented by executions that can withdraw an order.
type Canceler interface {
	Cancel(ctx context.Context, orderID string) error
}

// Publisher receives every applied holding transition.
type Publisher interface {
	PublishTransition(ctx context.Context, holding models.Holding, order models.Order) error
}

// Confirmation is an execution report from the venue.
type Confirmation struct {
	OrderID  string
	Status   models.OrderStatus
	Quantity int64
	Price    decimal.Decimal
	Time     time.Time
}

type Config struct {
	Instrument    string
	Location      *time.Location
	SessionClose  time.Duration // offset from local midnight
	HistoryWindow time.Duration
	DryRun        bool
}

type Options struct {
	Strategy  strategy.Strategy
	Feed      md.Feed
	Account   *ledger.AccountLedger
	Positions *ledger.PositionLedger
	Repo      store.Repository
	Execution Execution
	Decisions *DecisionLogger
	Publisher Publisher
	Log       zerolog.Logger
}

// Engine turns ticks into orders and confirmations into ledger transitions.
// OnTick and OnConfirmation are serialised.
type Engine struct {
	cfg       Config
	strategy  strategy.Strategy
	feed      md.Feed
	account   *ledger.AccountLedger
	positions *ledger.PositionLedger
	repo      store.Repository
	exec      Execution
	decisions *DecisionLogger
	publisher Publisher
	log       zerolog.Logger
	runID     string

	mu sync.Mutex
}

func New(cfg Config, opts Options) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	runID := ""
	if opts.Decisions != nil {
		runID = opts.Decisions.RunID()
	}
	return &Engine{
		cfg:       cfg,
		strategy:  opts.Strategy,
		feed:      opts.Feed,
		account:   opts.Account,
		positions: opts.Positions,
		repo:      opts.Repo,
		exec:      opts.Execution,
		decisions: opts.Decisions,
		publisher: opts.Publisher,
		log:       opts.Log.With().Str("component", "engine").Str("instrument", cfg.Instrument).Logger(),
		runID:     runID,
	}
}

// OnTick runs the strategy for one tick and submits its decisions. Faults
// scoped to one decision are logged; persistence failures stop the tick and
// are returned.
func (e *Engine) OnTick(ctx context.Context, tick md.Tick) error {
	e.mu.Lock()
	cancels, err := e.onTick(ctx, tick)
	e.mu.Unlock()

	// cancellations may report back through OnConfirmation
	e.cancelAll(ctx, cancels)
	return err
}

func (e *Engine) onTick(ctx context.Context, tick md.Tick) ([]string, error) {
	end := tick.Time.Add(-time.Minute)
	history, err := e.feed.Query(ctx, end.Add(-e.cfg.HistoryWindow), end)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	holdings, err := e.positions.OpenHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}

	res := e.strategy.Decide(strategy.Input{
		Instrument: e.cfg.Instrument,
		Time:       tick.Time,
		Price:      tick.Price,
		Balance:    e.account.Available(),
		History:    md.Closes(history),
		Holdings:   holdings,
	})
	if res.BuyOutcome != strategy.OutcomeBuy {
		e.record(DecisionRecord{TickTime: tick.Time, Price: tick.Price, Result: string(res.BuyOutcome)})
	}

	var cancels []string
	for _, d := range res.Decisions {
		orderID, err := e.execute(ctx, tick, d)
		if err == nil {
			continue
		}
		if orderID != "" {
			cancels = append(cancels, orderID)
		}
		if ledger.IsStateError(err) || errors.Is(err, ErrSubmitFailed) || errors.Is(err, strategy.ErrInvalidDecision) {
			e.log.Warn().Err(err).Str("holding", d.HoldingID).Str("side", string(d.Side)).Msg("decision aborted")
			continue
		}
		e.log.Error().Err(err).Str("holding", d.HoldingID).Msg("tick aborted")
		return cancels, err
	}
	return cancels, nil
}

// execute submits one decision. It returns the venue order id when the order
// reached the venue but the ledger rejected it.
func (e *Engine) execute(ctx context.Context, tick md.Tick, d strategy.Decision) (string, error) {
	rec := DecisionRecord{
		TickTime:  tick.Time,
		Price:     tick.Price,
		Side:      d.Side,
		Quantity:  d.Quantity,
		HoldingID: d.HoldingID,
		Note:      d.Note,
		Detail:    d.Detail,
	}
	if err := d.Validate(); err != nil {
		rec.Result, rec.Error = "invalid", err.Error()
		e.record(rec)
		return "", err
	}

	order := e.buildOrder(tick, d)
	if e.cfg.DryRun {
		rec.Result = "dry_run"
		e.record(rec)
		e.log.Info().Str("order", order.String()).Msg("dry run")
		return "", nil
	}
	if d.Side == models.SideBuy {
		need := order.Notional.Add(order.Fee)
		if e.account.Available().LessThan(need) {
			err := fmt.Errorf("%w: need %s for %s", ledger.ErrInsufficientFunds, need, d.HoldingID)
			rec.Result, rec.Error = "rejected", err.Error()
			e.record(rec)
			return "", err
		}
	}

	orderID, err := e.exec.Submit(ctx, order)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSubmitFailed, err)
		rec.Result, rec.Error = "order_failed", err.Error()
		e.record(rec)
		return "", err
	}
	order.OrderID = orderID
	rec.OrderID = orderID

	var tr ledger.Transition
	if d.Side == models.SideBuy {
		tr, err = e.positions.SubmitBuy(ctx, order)
	} else {
		tr, err = e.positions.SubmitSell(ctx, order)
	}
	if err != nil {
		rec.Result, rec.Error = "ledger_failed", err.Error()
		e.record(rec)
		return orderID, err
	}

	rec.Result = "order_submitted"
	e.record(rec)
	e.log.Info().Str("order", order.String()).Str("balance", e.account.Available().String()).Msg("order submitted")
	e.publish(ctx, tr)
	return "", nil
}

func (e *Engine) buildOrder(tick md.Tick, d strategy.Decision) models.Order {
	tc := e.account.Context()
	notional := d.Price.Mul(decimal.NewFromInt(d.Quantity))
	fee := fees.Calculate(notional)
	return models.Order{
		Env:        tc.Env,
		Market:     tc.Market,
		Account:    tc.Account,
		Side:       d.Side,
		Status:     models.OrderInitialized,
		Instrument: d.Instrument,
		HoldingID:  d.HoldingID,
		Quantity:   d.Quantity,
		Price:      d.Price,
		Notional:   notional,
		Fee:        fee.Total,
		FeeDetail:  fee.Detail,
		SubmitTime: tick.Time,
		ValidUntil: e.sessionClose(tick.Time),
		Trader:     d.Trader,
		Note:       d.Note,
		Detail:     d.Detail,
	}
}

// sessionClose is the close of the trading day t falls on.
func (e *Engine) sessionClose(t time.Time) time.Time {
	y, m, d := t.In(e.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.cfg.Location).Add(e.cfg.SessionClose)
}

// OnConfirmation applies an execution report. Unknown orders and ledger
// faults are logged; persistence failures are returned.
func (e *Engine) OnConfirmation(ctx context.Context, c Confirmation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.repo.GetOrder(ctx, models.OrderKey{TradeContext: e.account.Context(), OrderID: c.OrderID})
	if errors.Is(err, store.ErrNotFound) {
		e.log.Warn().Str("order", c.OrderID).Str("status", string(c.Status)).Msg("confirmation for unknown order")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", c.OrderID, err)
	}

	rec := DecisionRecord{
		TickTime:  c.Time,
		Price:     c.Price.InexactFloat64(),
		Side:      order.Side,
		Quantity:  c.Quantity,
		HoldingID: order.HoldingID,
		OrderID:   c.OrderID,
		Result:    "confirmed_" + string(c.Status),
	}
	tr, err := e.positions.Confirm(ctx, order, ledger.Fill{Status: c.Status, Quantity: c.Quantity, Price: c.Price, Time: c.Time})
	if err != nil {
		rec.Error = err.Error()
		e.record(rec)
		if ledger.IsStateError(err) {
			e.log.Error().Err(err).Str("order", c.OrderID).Msg("confirmation rejected")
			return nil
		}
		return err
	}
	if !tr.Applied {
		return nil
	}
	e.record(rec)
	e.log.Info().Str("holding", tr.Holding.HoldingID).Str("status", tr.Holding.Status.String()).Str("balance", e.account.Available().String()).Msg("confirmation applied")
	e.publish(ctx, tr)
	return nil
}

// PendingOrders lists the venue ids of orders still waiting for a final status.
func (e *Engine) PendingOrders(ctx context.Context) ([]string, error) {
	holdings, err := e.positions.OpenHoldings(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, h := range holdings {
		switch h.Status {
		case models.HoldingBuying:
			ids = append(ids, h.BuyOrderID)
		case models.HoldingSelling:
			ids = append(ids, h.SellOrderID)
		}
	}
	return ids, nil
}

// OpenOrders loads the orders behind PendingOrders.
func (e *Engine) OpenOrders(ctx context.Context) ([]models.Order, error) {
	ids, err := e.PendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := e.repo.GetOrder(ctx, models.OrderKey{TradeContext: e.account.Context(), OrderID: id})
		if err != nil {
			return nil, fmt.Errorf("load order %s: %w", id, err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (e *Engine) cancelAll(ctx context.Context, orderIDs []string) {
	canceler, ok := e.exec.(Canceler)
	for _, id := range orderIDs {
		if !ok {
			e.log.Error().Str("order", id).Msg("order live at venue without ledger entry, reconcile manually")
			continue
		}
		if err := canceler.Cancel(ctx, id); err != nil {
			e.log.Error().Err(err).Str("order", id).Msg("cancel failed, reconcile manually")
		}
	}
}

func (e *Engine) publish(ctx context.Context, tr ledger.Transition) {
	if e.publisher == nil || !tr.Applied {
		return
	}
	if err := e.publisher.PublishTransition(ctx, tr.Holding, tr.Order); err != nil {
		e.log.Warn().Err(err).Str("holding", tr.Holding.HoldingID).Msg("publish failed")
	}
}

func (e *Engine) record(rec DecisionRecord) {
	if e.decisions == nil {
		return
	}
	rec.RunID = e.runID
	rec.Symbol = e.cfg.Instrument
	e.decisions.Append(rec)
}
