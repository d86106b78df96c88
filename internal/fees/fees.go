// Package fees implements the per-order fee schedule charged on each leg of a trade.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	Commission      = "commission"
	PlatformFee     = "platform_fee"
	SettlementFee   = "settlement_fee"
	StampTax        = "stamp_tax"
	TransactionLevy = "transaction_levy"
	SFCLevy         = "sfc_levy"
	AFRCLevy        = "afrc_levy"
)

// Components lists the itemised fee names in the order they are charged.
var Components = []string{Commission, PlatformFee, SettlementFee, StampTax, TransactionLevy, SFCLevy, AFRCLevy}

var (
	commissionRate      = decimal.RequireFromString("0.0003")
	commissionMin       = decimal.NewFromInt(3)
	platformFee         = decimal.NewFromInt(15)
	settlementRate      = decimal.RequireFromString("0.00002")
	settlementMin       = decimal.NewFromInt(2)
	stampTaxRate        = decimal.RequireFromString("0.001")
	transactionLevyRate = decimal.RequireFromString("0.0000565")
	sfcLevyRate         = decimal.RequireFromString("0.000027")
	afrcLevyRate        = decimal.RequireFromString("0.0000015")

	// sell target keeps a buffer of twice the round-trip fee
	roundTripBuffer = decimal.NewFromInt(4)
	tieBreaker      = decimal.RequireFromString("0.01")
)

// Breakdown is the total fee for one order and its itemised components.
type Breakdown struct {
	Total  decimal.Decimal
	Detail map[string]decimal.Decimal
}

func (b Breakdown) String() string {
	return fmt.Sprintf("total=%s detail=%v", b.Total.StringFixed(2), b.Detail)
}

// Calculate returns the fee charged on an order of the given notional. Each
// component is rounded up on its own before being summed.
func Calculate(notional decimal.Decimal) Breakdown {
	if notional.IsNegative() {
		notional = decimal.Zero
	}
	detail := map[string]decimal.Decimal{
		Commission:      decimal.Max(commissionMin, ceilCent(notional.Mul(commissionRate))),
		PlatformFee:     platformFee,
		SettlementFee:   decimal.Max(settlementMin, ceilCent(notional.Mul(settlementRate))),
		StampTax:        notional.Mul(stampTaxRate).RoundCeil(0),
		TransactionLevy: ceilCent(notional.Mul(transactionLevyRate)),
		SFCLevy:         ceilCent(notional.Mul(sfcLevyRate)),
		AFRCLevy:        ceilCent(notional.Mul(afrcLevyRate)),
	}
	total := decimal.Zero
	for _, name := range Components {
		total = total.Add(detail[name])
	}
	return Breakdown{Total: total, Detail: detail}
}

// ExpectedSellPrice is the lowest price at which selling a lot bought at
// buyPrice clears the fees on both legs with margin to spare.
func ExpectedSellPrice(buyPrice decimal.Decimal, quantity int64) decimal.Decimal {
	if quantity <= 0 {
		return buyPrice.Add(tieBreaker)
	}
	qty := decimal.NewFromInt(quantity)
	notional := buyPrice.Mul(qty)
	fee := Calculate(notional).Total
	return notional.Add(fee.Mul(roundTripBuffer)).Div(qty).Round(2).Add(tieBreaker)
}

func ceilCent(v decimal.Decimal) decimal.Decimal {
	return v.RoundCeil(2)
}
