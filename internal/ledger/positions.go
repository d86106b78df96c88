package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mabot/internal/fees"
	"mabot/internal/models"
	"mabot/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Fill is an execution report for one order.
type Fill struct {
	Status   models.OrderStatus
	Quantity int64
	Price    decimal.Decimal
	Time     time.Time
}

// Transition is the result of applying an event to a holding. Applied is
// false when the event was ignored.
type Transition struct {
	Holding models.Holding
	Order   models.Order
	Applied bool
}

// PositionLedger drives the holding state machine of one instrument and
// keeps the account balance in step with it.
type PositionLedger struct {
	tc         models.TradeContext
	instrument string
	repo       store.Repository
	account    *AccountLedger
	log        zerolog.Logger
}

func NewPositionLedger(account *AccountLedger, repo store.Repository, instrument string, log zerolog.Logger) *PositionLedger {
	return &PositionLedger{
		tc:         account.Context(),
		instrument: instrument,
		repo:       repo,
		account:    account,
		log:        log.With().Str("component", "positions").Str("instrument", instrument).Logger(),
	}
}

// OpenHoldings lists the lots in BUYING, HOLDING or SELLING.
func (p *PositionLedger) OpenHoldings(ctx context.Context) ([]models.Holding, error) {
	return p.repo.ListHoldings(ctx, p.tc, p.instrument, models.OpenHoldingStatuses...)
}

func (p *PositionLedger) SoldHoldings(ctx context.Context) ([]models.Holding, error) {
	return p.repo.ListHoldings(ctx, p.tc, p.instrument, models.HoldingSold)
}

// SubmitBuy records a submitted buy order: the lot is created in BUYING and
// its notional and fee are debited.
func (p *PositionLedger) SubmitBuy(ctx context.Context, order models.Order) (Transition, error) {
	if err := p.checkOrder(order, models.SideBuy); err != nil {
		return Transition{}, err
	}
	var out Transition
	err := p.unit(ctx, func(tx store.Repository) error {
		if _, err := tx.GetHolding(ctx, order.HoldingKey()); err == nil {
			return fmt.Errorf("%w: holding %s already exists", ErrInvalidStateTransition, order.HoldingID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if need := order.Notional.Add(order.Fee); p.account.Available().LessThan(need) {
			return fmt.Errorf("%w: need %s for %s", ErrInsufficientFunds, need, order.HoldingID)
		}
		if err := p.account.debit(ctx, tx, order.Notional, "buy "+order.Instrument+" "+order.HoldingID); err != nil {
			return err
		}
		if err := p.account.debit(ctx, tx, order.Fee, "fee "+order.Instrument+" "+order.OrderID); err != nil {
			return err
		}

		h := models.Holding{
			Env:         order.Env,
			Market:      order.Market,
			Account:     order.Account,
			Instrument:  order.Instrument,
			HoldingID:   order.HoldingID,
			Status:      models.HoldingInit,
			Quantity:    order.Quantity,
			BuyPrice:    order.Price,
			BuyNotional: order.Notional,
			BuyFee:      order.Fee,
			BuyOrderID:  order.OrderID,
			CreatedAt:   order.SubmitTime,
			UpdatedAt:   order.SubmitTime,
		}
		h.Status = models.HoldingBuying
		order.Status = models.OrderSubmitted
		out = Transition{Holding: h, Order: order, Applied: true}
		return p.save(ctx, tx, h, order)
	})
	return out, err
}

// SubmitSell moves a HOLDING lot to SELLING and records the pending sale.
func (p *PositionLedger) SubmitSell(ctx context.Context, order models.Order) (Transition, error) {
	if err := p.checkOrder(order, models.SideSell); err != nil {
		return Transition{}, err
	}
	var out Transition
	err := p.unit(ctx, func(tx store.Repository) error {
		h, err := p.load(ctx, tx, order)
		if err != nil {
			return err
		}
		if err := expect(h, models.HoldingHolding, order); err != nil {
			return err
		}
		h.Status = models.HoldingSelling
		h.SellPrice = order.Price
		h.SellNotional = order.Notional
		h.SellFee = order.Fee
		h.SellOrderID = order.OrderID
		h.UpdatedAt = order.SubmitTime
		order.Status = models.OrderSubmitted
		out = Transition{Holding: h, Order: order, Applied: true}
		return p.save(ctx, tx, h, order)
	})
	return out, err
}

// Confirm applies an execution report to the lot behind order. Statuses
// other than FILLED and CANCELLED are logged and ignored.
func (p *PositionLedger) Confirm(ctx context.Context, order models.Order, fill Fill) (Transition, error) {
	if fill.Status != models.OrderFilled && fill.Status != models.OrderCancelled {
		p.log.Info().Str("holding", order.HoldingID).Str("order", order.OrderID).Str("status", string(fill.Status)).Msg("confirmation ignored")
		return Transition{Order: order}, nil
	}
	if order.Status != models.OrderSubmitted {
		return Transition{}, fmt.Errorf("%w: %s for order %s already %s", ErrInvalidStateTransition, fill.Status, order.OrderID, order.Status)
	}
	if fill.Price.IsZero() {
		fill.Price = order.Price
	}

	var out Transition
	err := p.unit(ctx, func(tx store.Repository) error {
		h, err := p.load(ctx, tx, order)
		if err != nil {
			return err
		}
		if fill.Quantity != h.Quantity {
			return fmt.Errorf("%w: holding %s has %d, confirmation for %d", ErrQuantityMismatch, h.HoldingID, h.Quantity, fill.Quantity)
		}
		switch order.Side {
		case models.SideBuy:
			err = p.confirmBuy(ctx, tx, &h, order, fill)
		case models.SideSell:
			err = p.confirmSell(ctx, tx, &h, order, fill)
		default:
			err = fmt.Errorf("%w: order side %q", ErrInvalidStateTransition, order.Side)
		}
		if err != nil {
			return err
		}
		h.UpdatedAt = fill.Time
		order.Status = fill.Status
		order.CompleteTime = fill.Time
		out = Transition{Holding: h, Order: order, Applied: true}
		return p.save(ctx, tx, h, order)
	})
	return out, err
}

func (p *PositionLedger) confirmBuy(ctx context.Context, tx store.Repository, h *models.Holding, order models.Order, fill Fill) error {
	if h.Status != models.HoldingBuying {
		return fmt.Errorf("%w: buy %s for holding %s in %s", ErrInvalidStateTransition, fill.Status, h.HoldingID, h.Status)
	}
	if h.BuyOrderID != order.OrderID {
		return fmt.Errorf("%w: buy %s for order %s, holding %s waits on %s", ErrInvalidStateTransition, fill.Status, order.OrderID, h.HoldingID, h.BuyOrderID)
	}
	if fill.Status == models.OrderCancelled {
		if err := p.account.credit(ctx, tx, h.BuyNotional, "refund buy "+h.Instrument+" "+h.HoldingID); err != nil {
			return err
		}
		if err := p.account.credit(ctx, tx, h.BuyFee, "refund fee "+h.Instrument+" "+order.OrderID); err != nil {
			return err
		}
		h.Status = models.HoldingDeleted
		return nil
	}

	notional := fill.Price.Mul(decimal.NewFromInt(h.Quantity))
	fee := h.BuyFee
	if !notional.Equal(h.BuyNotional) {
		fee = fees.Calculate(notional).Total
	}
	delta := notional.Add(fee).Sub(h.BuyNotional).Sub(h.BuyFee)
	if err := p.account.settle(ctx, tx, delta, "settle buy "+h.Instrument+" "+h.HoldingID); err != nil {
		return err
	}
	h.Status = models.HoldingHolding
	h.BuyPrice = fill.Price
	h.BuyNotional = notional
	h.BuyFee = fee
	h.BuyTime = fill.Time
	return nil
}

func (p *PositionLedger) confirmSell(ctx context.Context, tx store.Repository, h *models.Holding, order models.Order, fill Fill) error {
	if h.Status != models.HoldingSelling {
		return fmt.Errorf("%w: sell %s for holding %s in %s", ErrInvalidStateTransition, fill.Status, h.HoldingID, h.Status)
	}
	if h.SellOrderID != order.OrderID {
		return fmt.Errorf("%w: sell %s for order %s, holding %s waits on %s", ErrInvalidStateTransition, fill.Status, order.OrderID, h.HoldingID, h.SellOrderID)
	}
	if fill.Status == models.OrderCancelled {
		h.Status = models.HoldingHolding
		h.SellPrice = decimal.Zero
		h.SellNotional = decimal.Zero
		h.SellFee = decimal.Zero
		h.SellOrderID = ""
		return nil
	}

	notional := fill.Price.Mul(decimal.NewFromInt(h.Quantity))
	fee := h.SellFee
	if !notional.Equal(h.SellNotional) {
		fee = fees.Calculate(notional).Total
	}
	if err := p.account.credit(ctx, tx, notional, "sell "+h.Instrument+" "+h.HoldingID); err != nil {
		return err
	}
	if err := p.account.debit(ctx, tx, fee, "fee "+h.Instrument+" "+order.OrderID); err != nil {
		return err
	}
	h.Status = models.HoldingSold
	h.SellPrice = fill.Price
	h.SellNotional = notional
	h.SellFee = fee
	h.SellTime = fill.Time
	h.Profit = notional.Sub(h.BuyNotional).Sub(fee).Sub(h.BuyFee)
	return nil
}

func (p *PositionLedger) checkOrder(order models.Order, side models.Side) error {
	if order.Context() != p.tc {
		return fmt.Errorf("%w: order %s for %s", ErrAccountContextMismatch, order.OrderID, order.Context())
	}
	if order.Side != side || order.Instrument != p.instrument {
		return fmt.Errorf("%w: %s order for %s on the %s %s ledger", ErrInvalidStateTransition, order.Side, order.Instrument, side, p.instrument)
	}
	return nil
}

func (p *PositionLedger) load(ctx context.Context, tx store.Repository, order models.Order) (models.Holding, error) {
	h, err := tx.GetHolding(ctx, order.HoldingKey())
	if errors.Is(err, store.ErrNotFound) {
		return models.Holding{}, fmt.Errorf("%w: %s", ErrHoldingNotFound, order.HoldingKey())
	}
	return h, err
}

func expect(h models.Holding, status models.HoldingStatus, order models.Order) error {
	if h.Status != status {
		return fmt.Errorf("%w: %s order for holding %s in %s", ErrInvalidStateTransition, order.Side, h.HoldingID, h.Status)
	}
	if h.Quantity != order.Quantity {
		return fmt.Errorf("%w: holding %s has %d, order for %d", ErrQuantityMismatch, h.HoldingID, h.Quantity, order.Quantity)
	}
	return nil
}

func (p *PositionLedger) save(ctx context.Context, tx store.Repository, h models.Holding, order models.Order) error {
	if err := tx.SaveHolding(ctx, h); err != nil {
		return err
	}
	if err := tx.SaveOrder(ctx, order); err != nil {
		return err
	}
	p.log.Info().Str("holding", h.HoldingID).Str("order", order.OrderID).Str("status", h.Status.String()).Msg("holding updated")
	return nil
}

// unit runs fn as one repository transaction and rolls the in-memory
// balance back when it fails.
func (p *PositionLedger) unit(ctx context.Context, fn func(tx store.Repository) error) error {
	saved := p.account.snapshot()
	if err := p.repo.Atomic(ctx, fn); err != nil {
		p.account.restore(saved)
		return err
	}
	return nil
}
