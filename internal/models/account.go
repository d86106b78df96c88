package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalancePlaces is the precision every stored balance and ledger amount is rounded to.
const BalancePlaces = 4

// Account holds the cash balance for one (env, market, name) key.
type Account struct {
	Env       string          `json:"env"`
	Market    string          `json:"market"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a Account) Context() TradeContext {
	return TradeContext{Env: a.Env, Market: a.Market, Account: a.Name}
}
