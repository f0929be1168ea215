package simulator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/internal/metrics"
	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Simulator projects the effect of hypothetical trades on a snapshot. It
// never mutates the input; all work happens on a clone.
type Simulator struct {
	logger  *zap.Logger
	metrics *metrics.Calculator
	config  types.EngineConfig
}

// NewSimulator creates a trade impact simulator.
func NewSimulator(logger *zap.Logger, calculator *metrics.Calculator, config types.EngineConfig) *Simulator {
	return &Simulator{
		logger:  logger,
		metrics: calculator,
		config:  config,
	}
}

// Simulate applies trades in order to a cloned snapshot and reports the
// before/after metrics diff, cost estimates and advisory warnings. A buy
// needs cash covering notional plus the slippage buffer; a sell needs the
// held quantity. Either shortfall is a hard failure, not a warning. costModel
// may be nil to use defaults.
func (s *Simulator) Simulate(snapshot *types.PortfolioSnapshot, trades []types.SimulatedTrade, costModel *types.CostModel) (*types.SimulationResult, error) {
	if costModel == nil {
		costModel = types.DefaultCostModel()
	}
	if err := costModel.Validate(); err != nil {
		return nil, err
	}
	for i := range trades {
		if err := trades[i].Validate(fmt.Sprintf("trades[%d]", i)); err != nil {
			return nil, err
		}
	}

	beforeMetrics, err := s.metrics.Compute(snapshot)
	if err != nil {
		return nil, err
	}

	clone := snapshot.Clone()
	// Hypothetical trades are not attributed to a broker account, so the
	// per-broker cash partition cannot be kept consistent on the clone.
	clone.BrokerCash = nil

	beforeQty := quantitiesBySymbol(snapshot)

	var warnings []types.Warning
	costs := types.TradeCosts{
		Commission: decimal.Zero,
		Slippage:   decimal.Zero,
		TaxImpact:  decimal.Zero,
		Total:      decimal.Zero,
	}

	for i := range trades {
		trade := &trades[i]
		notional := trade.Notional()
		costs.Commission = costs.Commission.Add(commissionFor(costModel, notional))
		costs.Slippage = costs.Slippage.Add(slippageFor(costModel, notional))

		switch trade.Side {
		case types.TradeSideBuy:
			if err := s.applyBuy(clone, trade, costModel.SlippageRate, i); err != nil {
				return nil, err
			}
			warnings = append(warnings, s.buyConcentrationWarnings(clone, trade)...)
		case types.TradeSideSell:
			realizedGain, err := s.applySell(clone, trade, i)
			if err != nil {
				return nil, err
			}
			costs.TaxImpact = costs.TaxImpact.Add(taxFor(costModel, realizedGain))
		}
	}
	costs.Total = costs.Commission.Add(costs.Slippage).Add(costs.TaxImpact)

	afterMetrics, err := s.metrics.Compute(clone)
	if err != nil {
		return nil, fmt.Errorf("computing post-trade metrics: %w", err)
	}

	warnings = append(warnings, s.portfolioWarnings(beforeMetrics, afterMetrics)...)

	result := &types.SimulationResult{
		BeforeMetrics: beforeMetrics,
		AfterMetrics:  afterMetrics,
		Impact:        buildImpact(beforeMetrics, afterMetrics, beforeQty, quantitiesBySymbol(clone)),
		Costs:         costs,
		Warnings:      warnings,
	}

	s.logger.Debug("Simulated trades",
		zap.Int("trades", len(trades)),
		zap.String("valueChange", result.Impact.TotalValueChange.String()),
		zap.Int("warnings", len(warnings)))

	return result, nil
}

// applyBuy debits cash and creates or grows a position. Buying against a
// short covers it first; any remainder opens a long lot at the trade price.
func (s *Simulator) applyBuy(clone *types.PortfolioSnapshot, trade *types.SimulatedTrade, slippageRate decimal.Decimal, index int) error {
	notional := trade.Notional()
	required := notional.Add(notional.Mul(slippageRate))
	if clone.Cash.LessThan(required) {
		return types.NewInsufficientFunds(fmt.Sprintf(
			"trade %d: buying %s %s at %s requires %s including slippage buffer, cash is %s",
			index, trade.Quantity, trade.Symbol, trade.Price, required, clone.Cash))
	}
	clone.Cash = clone.Cash.Sub(notional)

	idx := largestHoldingIndex(clone, trade.Symbol)
	if idx < 0 {
		clone.Positions = append(clone.Positions, types.Position{
			Symbol:       trade.Symbol,
			Quantity:     trade.Quantity,
			AvgCost:      trade.Price,
			CurrentPrice: trade.Price,
			Broker:       types.BrokerSimulated,
		})
		return nil
	}

	pos := &clone.Positions[idx]
	newQty := pos.Quantity.Add(trade.Quantity)
	switch {
	case newQty.IsZero():
		removePosition(clone, idx)
	case pos.Quantity.IsNegative() && newQty.IsPositive():
		// Short flipped long; the long lot starts at the trade price.
		pos.Quantity = newQty
		pos.AvgCost = trade.Price
	case pos.Quantity.IsNegative():
		pos.Quantity = newQty
	default:
		totalCost := pos.Quantity.Mul(pos.AvgCost).Add(trade.Quantity.Mul(trade.Price))
		pos.AvgCost = totalCost.Div(newQty)
		pos.Quantity = newQty
	}
	return nil
}

// applySell credits cash and reduces long lots largest-first. It returns the
// realized gain summed over lots sold above cost, which feeds the tax
// estimate.
func (s *Simulator) applySell(clone *types.PortfolioSnapshot, trade *types.SimulatedTrade, index int) (decimal.Decimal, error) {
	held := clone.QuantityOf(trade.Symbol)
	if held.LessThan(trade.Quantity) {
		return decimal.Zero, types.NewInsufficientShares(fmt.Sprintf(
			"trade %d: selling %s %s but only %s held",
			index, trade.Quantity, trade.Symbol, held))
	}
	clone.Cash = clone.Cash.Add(trade.Notional())

	realizedGain := decimal.Zero
	remaining := trade.Quantity
	for remaining.IsPositive() {
		idx := largestHoldingIndex(clone, trade.Symbol)
		if idx < 0 {
			break
		}
		pos := &clone.Positions[idx]
		take := decimal.Min(pos.Quantity, remaining)
		lotGain := trade.Price.Sub(pos.AvgCost).Mul(take)
		if lotGain.IsPositive() {
			realizedGain = realizedGain.Add(lotGain)
		}
		pos.Quantity = pos.Quantity.Sub(take)
		remaining = remaining.Sub(take)
		if pos.Quantity.IsZero() {
			removePosition(clone, idx)
		}
	}
	return realizedGain, nil
}

// buyConcentrationWarnings flags a buy that leaves the symbol above the
// configured share of total value.
func (s *Simulator) buyConcentrationWarnings(clone *types.PortfolioSnapshot, trade *types.SimulatedTrade) []types.Warning {
	totalValue := clone.TotalValue()
	if !totalValue.IsPositive() {
		return nil
	}
	weight, _ := clone.QuantityOf(trade.Symbol).Mul(currentPriceOf(clone, trade.Symbol)).
		Div(totalValue).Float64()
	weightPct := weight * 100
	if weightPct < 0 {
		weightPct = -weightPct
	}

	switch {
	case weightPct > s.config.TradeConcentrationSevere:
		return []types.Warning{{
			Type:     types.WarningTradeConcentration,
			Severity: types.SeverityHigh,
			Message:  fmt.Sprintf("buying %s puts the position at %.1f%% of portfolio value", trade.Symbol, weightPct),
		}}
	case weightPct > s.config.TradeConcentrationWarn:
		return []types.Warning{{
			Type:     types.WarningTradeConcentration,
			Severity: types.SeverityMedium,
			Message:  fmt.Sprintf("buying %s puts the position at %.1f%% of portfolio value", trade.Symbol, weightPct),
		}}
	}
	return nil
}

// portfolioWarnings flags post-trade conditions: concentration above the
// ceiling, a volatility jump beyond the configured delta, and cash below
// the low-cash floor.
func (s *Simulator) portfolioWarnings(before, after *types.PortfolioMetrics) []types.Warning {
	var warnings []types.Warning

	if after.ConcentrationRisk > s.config.ConcentrationCeiling {
		warnings = append(warnings, types.Warning{
			Type:     types.WarningHighConcentration,
			Severity: types.SeverityHigh,
			Message: fmt.Sprintf("largest position is %.1f%% of portfolio value, above the %.0f%% ceiling",
				after.ConcentrationRisk, s.config.ConcentrationCeiling),
		})
	}

	volDelta := after.Volatility - before.Volatility
	if volDelta > s.config.VolatilityWarnDelta {
		warnings = append(warnings, types.Warning{
			Type:     types.WarningVolatilityIncrease,
			Severity: types.SeverityMedium,
			Message: fmt.Sprintf("portfolio volatility rises %.1f points to %.1f%%",
				volDelta, after.Volatility),
		})
	}

	floor := after.TotalValue.Mul(decimal.NewFromFloat(s.config.LowCashFraction))
	if after.TotalCash.LessThan(floor) {
		warnings = append(warnings, types.Warning{
			Type:     types.WarningLowCash,
			Severity: types.SeverityLow,
			Message: fmt.Sprintf("cash falls to %s, below %.0f%% of portfolio value",
				after.TotalCash.StringFixed(2), s.config.LowCashFraction*100),
		})
	}

	return warnings
}

// buildImpact diffs metrics and classifies every touched symbol by its
// before/after quantity: absent to held is new, held to absent is closed,
// otherwise the magnitude decides increased or decreased.
func buildImpact(before, after *types.PortfolioMetrics, beforeQty, afterQty map[string]decimal.Decimal) types.TradeImpact {
	impact := types.TradeImpact{
		TotalValueChange:      after.TotalValue.Sub(before.TotalValue),
		CashChange:            after.TotalCash.Sub(before.TotalCash),
		DiversificationChange: after.DiversificationScore - before.DiversificationScore,
		ConcentrationChange:   after.ConcentrationRisk - before.ConcentrationRisk,
		VolatilityChange:      after.Volatility - before.Volatility,
		BetaChange:            after.Beta - before.Beta,
		SharpeChange:          after.SharpeRatio - before.SharpeRatio,
		NewPositions:          []string{},
		ClosedPositions:       []string{},
		IncreasedPositions:    []string{},
		DecreasedPositions:    []string{},
	}

	symbols := make(map[string]bool, len(beforeQty)+len(afterQty))
	for symbol := range beforeQty {
		symbols[symbol] = true
	}
	for symbol := range afterQty {
		symbols[symbol] = true
	}

	for symbol := range symbols {
		before, after := beforeQty[symbol], afterQty[symbol]
		switch {
		case before.IsZero() && after.IsZero():
			// Opened and closed within the same trade list.
		case before.IsZero():
			impact.NewPositions = append(impact.NewPositions, symbol)
		case after.IsZero():
			impact.ClosedPositions = append(impact.ClosedPositions, symbol)
		case after.Abs().GreaterThan(before.Abs()):
			impact.IncreasedPositions = append(impact.IncreasedPositions, symbol)
		case after.Abs().LessThan(before.Abs()):
			impact.DecreasedPositions = append(impact.DecreasedPositions, symbol)
		}
	}

	sort.Strings(impact.NewPositions)
	sort.Strings(impact.ClosedPositions)
	sort.Strings(impact.IncreasedPositions)
	sort.Strings(impact.DecreasedPositions)
	return impact
}

// quantitiesBySymbol sums signed quantities across brokers.
func quantitiesBySymbol(snapshot *types.PortfolioSnapshot) map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal, len(snapshot.Positions))
	for i := range snapshot.Positions {
		pos := &snapshot.Positions[i]
		result[pos.Symbol] = result[pos.Symbol].Add(pos.Quantity)
	}
	return result
}

// largestHoldingIndex returns the index of the largest long lot for a
// symbol, or the least-short lot when no long lot exists, or -1.
func largestHoldingIndex(snapshot *types.PortfolioSnapshot, symbol string) int {
	best := -1
	for i := range snapshot.Positions {
		if snapshot.Positions[i].Symbol != symbol {
			continue
		}
		if best < 0 || snapshot.Positions[i].Quantity.GreaterThan(snapshot.Positions[best].Quantity) {
			best = i
		}
	}
	return best
}

// currentPriceOf returns the current price of the largest holding for a
// symbol, or zero when the symbol is not held.
func currentPriceOf(snapshot *types.PortfolioSnapshot, symbol string) decimal.Decimal {
	idx := largestHoldingIndex(snapshot, symbol)
	if idx < 0 {
		return decimal.Zero
	}
	return snapshot.Positions[idx].CurrentPrice
}

// removePosition drops one position, preserving order.
func removePosition(snapshot *types.PortfolioSnapshot, idx int) {
	snapshot.Positions = append(snapshot.Positions[:idx], snapshot.Positions[idx+1:]...)
}
