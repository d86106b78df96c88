package engine

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"mabot/internal/ledger"
	"mabot/internal/models"

	"github.com/shopspring/decimal"
)

// Report summarises an account at the end of a run.
type Report struct {
	Instrument string
	Start, End time.Time
	Balance    decimal.Decimal
	LastPrice  decimal.Decimal

	Open         []models.Holding
	OpenQuantity int64
	OpenCost     decimal.Decimal
	AverageCost  decimal.Decimal
	MarketValue  decimal.Decimal
	Equity       decimal.Decimal

	Sold        []models.Holding
	Trades      int
	TotalProfit decimal.Decimal
	TotalFees   decimal.Decimal
}

// BuildReport values held lots at lastPrice. Lots still waiting for their
// buy fill are left out.
func BuildReport(ctx context.Context, instrument string, account *ledger.AccountLedger, positions *ledger.PositionLedger, lastPrice decimal.Decimal) (Report, error) {
	r := Report{Instrument: instrument, Balance: account.Available(), LastPrice: lastPrice}

	open, err := positions.OpenHoldings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load open holdings: %w", err)
	}
	for _, h := range open {
		if h.Status == models.HoldingBuying {
			continue
		}
		r.Open = append(r.Open, h)
		r.OpenQuantity += h.Quantity
		r.OpenCost = r.OpenCost.Add(h.BuyPrice.Mul(decimal.NewFromInt(h.Quantity)))
	}
	if r.OpenQuantity > 0 {
		r.AverageCost = r.OpenCost.Div(decimal.NewFromInt(r.OpenQuantity)).Round(2)
	}
	r.MarketValue = lastPrice.Mul(decimal.NewFromInt(r.OpenQuantity))
	r.Equity = r.Balance.Add(r.MarketValue)

	sold, err := positions.SoldHoldings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load sold holdings: %w", err)
	}
	r.Sold = sold
	r.Trades = len(sold)
	for _, h := range sold {
		r.TotalProfit = r.TotalProfit.Add(h.Profit)
		r.TotalFees = r.TotalFees.Add(h.BuyFee).Add(h.SellFee)
	}
	return r, nil
}

func (r Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# Backtest report\n")
	fmt.Fprintf(tw, "instrument\t%s\n", r.Instrument)
	if !r.Start.IsZero() {
		fmt.Fprintf(tw, "period\t%s .. %s\n", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
	}
	fmt.Fprintf(tw, "balance\t%s\n", r.Balance.StringFixed(2))

	fmt.Fprintf(tw, "\n## Open holdings\n")
	for _, h := range r.Open {
		fmt.Fprintf(tw, "%s\t%d * %s\t= %s\t%s\n", h.HoldingID, h.Quantity, h.BuyPrice.StringFixed(2),
			h.BuyPrice.Mul(decimal.NewFromInt(h.Quantity)).StringFixed(2), h.Status)
	}
	if r.OpenQuantity > 0 {
		fmt.Fprintf(tw, "quantity\t%d\n", r.OpenQuantity)
		fmt.Fprintf(tw, "cost\t%s\n", r.OpenCost.StringFixed(2))
		fmt.Fprintf(tw, "average cost\t%s\n", r.AverageCost.StringFixed(2))
		fmt.Fprintf(tw, "last price\t%s\n", r.LastPrice.StringFixed(2))
		fmt.Fprintf(tw, "market value\t%s\n", r.MarketValue.StringFixed(2))
	}
	fmt.Fprintf(tw, "equity\t%s\n", r.Equity.StringFixed(2))

	fmt.Fprintf(tw, "\n## Sold holdings\n")
	for _, h := range r.Sold {
		fmt.Fprintf(tw, "%s\t%d\tbuy %s @ %s\tsell %s @ %s\tprofit %s\tfees %s\n",
			h.HoldingID, h.Quantity,
			h.BuyTime.Format("2006-01-02 15:04"), h.BuyPrice.StringFixed(2),
			h.SellTime.Format("2006-01-02 15:04"), h.SellPrice.StringFixed(2),
			h.Profit.StringFixed(2), h.BuyFee.Add(h.SellFee).StringFixed(2))
	}
	fmt.Fprintf(tw, "trades\t%d\n", r.Trades)
	fmt.Fprintf(tw, "total profit\t%s\n", r.TotalProfit.StringFixed(2))
	fmt.Fprintf(tw, "total fees\t%s\n", r.TotalFees.StringFixed(2))
	return tw.Flush()
}
