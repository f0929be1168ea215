// Package simulator applies hypothetical trades to portfolio snapshots,
// diffs the resulting metrics and estimates execution costs.
package simulator

import (
	"github.com/shopspring/decimal"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// commissionFor returns the commission estimate for one trade: the flat fee
// plus the rate applied to notional.
func commissionFor(model *types.CostModel, notional decimal.Decimal) decimal.Decimal {
	return model.CommissionFlat.Add(notional.Mul(model.CommissionRate))
}

// slippageFor returns the slippage estimate for one trade.
func slippageFor(model *types.CostModel, notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(model.SlippageRate)
}

// taxFor returns the tax estimate on a realized gain. Lot-level holding
// periods are not tracked, so the flat default rate applies; losses carry no
// tax estimate.
func taxFor(model *types.CostModel, realizedGain decimal.Decimal) decimal.Decimal {
	if !realizedGain.IsPositive() {
		return decimal.Zero
	}
	return realizedGain.Mul(model.TaxRateDefault)
}
