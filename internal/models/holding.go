package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HoldingStatus is the lifecycle state of one position lot.
type HoldingStatus int

const (
	HoldingInit HoldingStatus = iota
	HoldingBuying
	HoldingHolding
	HoldingSelling
	HoldingSold
	HoldingDeleted
)

var holdingStatusNames = map[HoldingStatus]string{
	HoldingInit:    "INIT",
	HoldingBuying:  "BUYING",
	HoldingHolding: "HOLDING",
	HoldingSelling: "SELLING",
	HoldingSold:    "SOLD",
	HoldingDeleted: "DELETED",
}

func (s HoldingStatus) String() string {
	if name, ok := holdingStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("HoldingStatus(%d)", int(s))
}

func (s HoldingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *HoldingStatus) UnmarshalText(text []byte) error {
	for status, name := range holdingStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown holding status %q", text)
}

// IsOpen reports whether the lot still ties up capital or shares.
func (s HoldingStatus) IsOpen() bool {
	return s == HoldingBuying || s == HoldingHolding || s == HoldingSelling
}

// OpenHoldingStatuses are the states of a lot that still ties up capital or shares.
var OpenHoldingStatuses = []HoldingStatus{HoldingBuying, HoldingHolding, HoldingSelling}

// Holding is one lot of a position, tracked from buy submission to sale.
type Holding struct {
	Env        string        `json:"env"`
	Market     string        `json:"market"`
	Account    string        `json:"account"`
	Instrument string        `json:"instrument"`
	HoldingID  string        `json:"holding_id"`
	Status     HoldingStatus `json:"status"`
	Quantity   int64         `json:"quantity"`

	BuyPrice    decimal.Decimal `json:"buy_price"`
	BuyNotional decimal.Decimal `json:"buy_notional"`
	BuyFee      decimal.Decimal `json:"buy_fee"`
	BuyOrderID  string          `json:"buy_order_id"`
	BuyTime     time.Time       `json:"buy_time"`

	SellPrice    decimal.Decimal `json:"sell_price"`
	SellNotional decimal.Decimal `json:"sell_notional"`
	SellFee      decimal.Decimal `json:"sell_fee"`
	SellOrderID  string          `json:"sell_order_id"`
	SellTime     time.Time       `json:"sell_time"`

	Profit decimal.Decimal `json:"profit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HoldingKey is the composite identity of a Holding.
type HoldingKey struct {
	TradeContext
	Instrument string
	HoldingID  string
}

func (h Holding) Key() HoldingKey {
	return HoldingKey{
		TradeContext: TradeContext{Env: h.Env, Market: h.Market, Account: h.Account},
		Instrument:   h.Instrument,
		HoldingID:    h.HoldingID,
	}
}

func (k HoldingKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TradeContext.String(), k.Instrument, k.HoldingID)
}
