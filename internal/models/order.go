package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderInitialized OrderStatus = "INITIALIZED"
	OrderSubmitted   OrderStatus = "SUBMITTED"
	OrderPartial     OrderStatus = "PARTIAL"
	OrderFilled      OrderStatus = "FILLED"
	OrderCancelled   OrderStatus = "CANCELLED"
	OrderDeleted     OrderStatus = "DELETED"
)

// Order is an intent to trade a fixed quantity at a fixed price for one holding.
type Order struct {
	Env          string                     `json:"env"`
	Market       string                     `json:"market"`
	Account      string                     `json:"account"`
	OrderID      string                     `json:"order_id"`
	Side         Side                       `json:"side"`
	Status       OrderStatus                `json:"status"`
	Instrument   string                     `json:"instrument"`
	HoldingID    string                     `json:"holding_id"`
	Quantity     int64                      `json:"quantity"`
	Price        decimal.Decimal            `json:"price"`
	Notional     decimal.Decimal            `json:"notional"`
	Fee          decimal.Decimal            `json:"fee"`
	FeeDetail    map[string]decimal.Decimal `json:"fee_detail,omitempty"`
	SubmitTime   time.Time                  `json:"submit_time"`
	ValidUntil   time.Time                  `json:"valid_until"`
	CompleteTime time.Time                  `json:"complete_time,omitempty"`
	Trader       string                     `json:"trader,omitempty"`
	Note         string                     `json:"note,omitempty"`
	Detail       map[string]any             `json:"detail,omitempty"`
}

// OrderKey is the composite identity of an Order.
type OrderKey struct {
	TradeContext
	OrderID string
}

func (o Order) Context() TradeContext {
	return TradeContext{Env: o.Env, Market: o.Market, Account: o.Account}
}

func (o Order) Key() OrderKey {
	return OrderKey{TradeContext: o.Context(), OrderID: o.OrderID}
}

func (o Order) HoldingKey() HoldingKey {
	return HoldingKey{TradeContext: o.Context(), Instrument: o.Instrument, HoldingID: o.HoldingID}
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %d@%s holding=%s order=%s", o.Side, o.Instrument, o.Quantity, o.Price.StringFixed(2), o.HoldingID, o.OrderID)
}
