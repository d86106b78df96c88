// Package broker places and tracks limit orders at Alpaca.
package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mabot/internal/engine"
	"mabot/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxClientOrderID = 48

// orderAPI is the subset of *alpaca.Client the broker uses.
type orderAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetAccount() (*alpaca.Account, error)
}

type Account struct {
	Equity      decimal.Decimal
	BuyingPower decimal.Decimal
}

type Client struct {
	client        orderAPI
	extendedHours bool
	log           zerolog.Logger
}

var (
	_ engine.Execution   = (*Client)(nil)
	_ engine.Canceler    = (*Client)(nil)
	_ engine.OrderSource = (*Client)(nil)
)

func New(apiKey, apiSecret, baseURL string, extendedHours bool, log zerolog.Logger) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return newClient(alpaca.NewClient(opts), extendedHours, log)
}

func newClient(api orderAPI, extendedHours bool, log zerolog.Logger) *Client {
	return &Client{client: api, extendedHours: extendedHours, log: log.With().Str("component", "broker").Logger()}
}

// Submit places a day limit order for the full quantity. The client order
// id is derived from the holding so a resubmission is rejected by the venue.
func (c *Client) Submit(ctx context.Context, order models.Order) (string, error) {
	side := alpaca.Buy
	if order.Side == models.SideSell {
		side = alpaca.Sell
	}
	qty := decimal.NewFromInt(order.Quantity)
	limit := order.Price
	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Instrument,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.Day,
		LimitPrice:    &limit,
		ClientOrderID: ClientOrderID(order),
		ExtendedHours: c.extendedHours,
	}

	placed, err := c.client.PlaceOrder(req)
	if err != nil {
		c.log.Error().Err(err).Str("order", order.String()).Msg("place order failed")
		return "", err
	}
	c.log.Info().Str("order_id", placed.ID).Str("order", order.String()).Str("status", string(placed.Status)).Msg("place order success")
	return placed.ID, nil
}

// ClientOrderID is the idempotency key sent with an order. The submit time
// keeps it unique across resubmissions of one holding.
func ClientOrderID(order models.Order) string {
	side := strings.ToLower(string(order.Side))
	stamp := strconv.FormatInt(order.SubmitTime.Unix(), 36)
	holding := order.HoldingID
	if room := maxClientOrderID - len(side) - len(stamp) - 2; len(holding) > room {
		holding = holding[:room]
	}
	return side + "-" + holding + "-" + stamp
}

func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if err := c.client.CancelOrder(orderID); err != nil {
		c.log.Error().Err(err).Str("order_id", orderID).Msg("cancel order failed")
		return err
	}
	c.log.Info().Str("order_id", orderID).Msg("cancel order requested")
	return nil
}

// OrderStatus maps the venue's view of an order onto a Confirmation.
// Expired and rejected orders are reported as cancelled.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (engine.Confirmation, error) {
	o, err := c.client.GetOrder(orderID)
	if err != nil {
		return engine.Confirmation{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	conf := engine.Confirmation{OrderID: o.ID, Time: o.UpdatedAt}
	switch o.Status {
	case "filled":
		conf.Status = models.OrderFilled
		conf.Quantity = o.FilledQty.IntPart()
		if o.FilledAvgPrice != nil {
			conf.Price = *o.FilledAvgPrice
		}
		if o.FilledAt != nil {
			conf.Time = *o.FilledAt
		}
	case "canceled", "expired", "rejected":
		conf.Status = models.OrderCancelled
		if o.Qty != nil {
			conf.Quantity = o.Qty.IntPart()
		}
		if o.CanceledAt != nil {
			conf.Time = *o.CanceledAt
		}
	case "partially_filled":
		conf.Status = models.OrderPartial
		conf.Quantity = o.FilledQty.IntPart()
	default:
		conf.Status = models.OrderSubmitted
	}
	return conf, nil
}

func (c *Client) Account(ctx context.Context) (Account, error) {
	acct, err := c.client.GetAccount()
	if err != nil {
		c.log.Error().Err(err).Msg("fetch account failed")
		return Account{}, err
	}
	c.log.Info().Str("equity", acct.Equity.String()).Str("buying_power", acct.BuyingPower.String()).Msg("account fetched")
	return Account{Equity: acct.Equity, BuyingPower: acct.BuyingPower}, nil
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
