package models

import "fmt"

// TradeContext identifies the environment, market and account every ledger
// entry belongs to. It is passed explicitly to each component.
type TradeContext struct {
	Env     string `json:"env"`
	Market  string `json:"market"`
	Account string `json:"account"`
}

func (c TradeContext) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Env, c.Market, c.Account)
}

func (c TradeContext) Validate() error {
	if c.Env == "" || c.Market == "" || c.Account == "" {
		return fmt.Errorf("trade context requires env, market and account (got %q)", c.String())
	}
	return nil
}
