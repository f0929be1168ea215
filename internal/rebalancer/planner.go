// Package rebalancer compares a live portfolio against a target allocation
// and suggests the minimal broker-aware trade list that brings every symbol
// back inside the drift tolerance.
package rebalancer

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/internal/metrics"
	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Planner computes rebalance suggestions. It is stateless and safe for
// concurrent use; it only ever reads the snapshot.
type Planner struct {
	logger  *zap.Logger
	metrics *metrics.Calculator
}

// NewPlanner creates a rebalance planner.
func NewPlanner(logger *zap.Logger, calculator *metrics.Calculator) *Planner {
	return &Planner{logger: logger, metrics: calculator}
}

// holding aggregates one symbol's state across brokers.
type holding struct {
	symbol  string
	value   decimal.Decimal
	price   decimal.Decimal
	avgCost decimal.Decimal
	// lots sorted largest value first, for greedy broker routing.
	lots []lot
}

type lot struct {
	broker   types.BrokerType
	quantity decimal.Decimal
	value    decimal.Decimal
}

// Compute derives the drift per symbol and the trades needed to return the
// portfolio to target. prices optionally supplies quotes for target symbols
// that are not currently held; a target symbol with no holding and no
// supplied price fails with NoPositionData. An empty SuggestedTrades list
// means the portfolio is within tolerance, which is success.
func (p *Planner) Compute(snapshot *types.PortfolioSnapshot, target *types.TargetAllocation, costModel *types.CostModel, prices map[string]decimal.Decimal) (*types.RebalanceSuggestion, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if costModel == nil {
		costModel = types.DefaultCostModel()
	}
	if err := costModel.Validate(); err != nil {
		return nil, err
	}
	// Metrics validate the snapshot and reject non-positive total value,
	// which the percent math below depends on.
	if _, err := p.metrics.Compute(snapshot); err != nil {
		return nil, err
	}

	totalValue := snapshot.TotalValue()
	totalFloat, _ := totalValue.Float64()
	holdings := groupHoldings(snapshot)

	suggestion := &types.RebalanceSuggestion{
		Allocations:        make([]types.AllocationDrift, 0, len(target.Targets)),
		SuggestedTrades:    []types.RebalanceTrade{},
		EstimatedFees:      decimal.Zero,
		EstimatedTaxImpact: decimal.Zero,
	}

	for _, entry := range allocationRows(target, holdings) {
		held := holdings[entry.symbol]

		currentValue := decimal.Zero
		if held != nil {
			currentValue = held.value
		}
		currentFloat, _ := currentValue.Float64()
		currentPercent := currentFloat / totalFloat * 100
		drift := currentPercent - entry.targetPercent

		suggestion.Allocations = append(suggestion.Allocations, types.AllocationDrift{
			Symbol:         entry.symbol,
			CurrentPercent: currentPercent,
			TargetPercent:  entry.targetPercent,
			Drift:          drift,
			CurrentValue:   currentValue,
		})

		if abs(drift) <= target.RebalanceThreshold {
			continue
		}

		price, err := resolvePrice(entry.symbol, held, prices)
		if err != nil {
			return nil, err
		}

		targetValue := totalValue.Mul(decimal.NewFromFloat(entry.targetPercent / 100))
		quantity := targetValue.Sub(currentValue).Abs().Div(price)
		if quantity.IsZero() {
			continue
		}
		reason := fmt.Sprintf("drift %.1f%% exceeds %.1f%% threshold", drift, target.RebalanceThreshold)

		var trades []types.RebalanceTrade
		if drift > 0 {
			trades = routeSell(entry.symbol, quantity, price, held, reason)
			for _, trade := range trades {
				suggestion.EstimatedTaxImpact = suggestion.EstimatedTaxImpact.
					Add(taxEstimate(costModel, held, trade.Quantity, price))
			}
		} else {
			trades = []types.RebalanceTrade{{
				Symbol:         entry.symbol,
				Side:           types.TradeSideBuy,
				Quantity:       quantity,
				EstimatedValue: quantity.Mul(price),
				Broker:         routeBuy(snapshot, target, held),
				Reason:         reason,
			}}
		}

		for _, trade := range trades {
			suggestion.EstimatedFees = suggestion.EstimatedFees.
				Add(costModel.CommissionFlat).
				Add(trade.EstimatedValue.Mul(costModel.CommissionRate)).
				Add(trade.EstimatedValue.Mul(costModel.SlippageRate))
		}
		suggestion.SuggestedTrades = append(suggestion.SuggestedTrades, trades...)
	}

	p.logger.Debug("Computed rebalance suggestion",
		zap.String("allocation", target.Name),
		zap.Int("symbols", len(suggestion.Allocations)),
		zap.Int("trades", len(suggestion.SuggestedTrades)))

	return suggestion, nil
}

// allocationRow pairs a symbol with its target percent, zero for held
// symbols absent from the target.
type allocationRow struct {
	symbol        string
	targetPercent float64
}

// allocationRows lists target symbols in target order followed by held
// non-target symbols sorted by name.
func allocationRows(target *types.TargetAllocation, holdings map[string]*holding) []allocationRow {
	rows := make([]allocationRow, 0, len(target.Targets)+len(holdings))
	targeted := make(map[string]bool, len(target.Targets))
	for _, entry := range target.Targets {
		rows = append(rows, allocationRow{symbol: entry.Symbol, targetPercent: entry.TargetPercent})
		targeted[entry.Symbol] = true
	}

	extra := make([]string, 0)
	for symbol := range holdings {
		if !targeted[symbol] {
			extra = append(extra, symbol)
		}
	}
	sort.Strings(extra)
	for _, symbol := range extra {
		rows = append(rows, allocationRow{symbol: symbol})
	}
	return rows
}

// groupHoldings aggregates positions per symbol with lots sorted largest
// first. Price and average cost are value-weighted across brokers.
func groupHoldings(snapshot *types.PortfolioSnapshot) map[string]*holding {
	holdings := make(map[string]*holding)
	for i := range snapshot.Positions {
		pos := &snapshot.Positions[i]
		h := holdings[pos.Symbol]
		if h == nil {
			h = &holding{symbol: pos.Symbol, price: pos.CurrentPrice}
			holdings[pos.Symbol] = h
		}
		value := pos.MarketValue()
		h.value = h.value.Add(value)
		h.lots = append(h.lots, lot{broker: pos.Broker, quantity: pos.Quantity, value: value})
	}
	for _, h := range holdings {
		totalQty := decimal.Zero
		totalCost := decimal.Zero
		for _, l := range h.lots {
			totalQty = totalQty.Add(l.quantity)
			totalCost = totalCost.Add(l.quantity.Mul(avgCostOf(snapshot, h.symbol, l.broker)))
		}
		if !totalQty.IsZero() {
			h.avgCost = totalCost.Div(totalQty)
		}
		sort.SliceStable(h.lots, func(i, j int) bool {
			return h.lots[i].value.GreaterThan(h.lots[j].value)
		})
	}
	return holdings
}

func avgCostOf(snapshot *types.PortfolioSnapshot, symbol string, broker types.BrokerType) decimal.Decimal {
	for i := range snapshot.Positions {
		if snapshot.Positions[i].Symbol == symbol && snapshot.Positions[i].Broker == broker {
			return snapshot.Positions[i].AvgCost
		}
	}
	return decimal.Zero
}

// resolvePrice returns the current price for a symbol: the held quote when
// the symbol is in the portfolio, otherwise a caller-supplied price.
func resolvePrice(symbol string, held *holding, prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	if held != nil && held.price.IsPositive() {
		return held.price, nil
	}
	if price, ok := prices[symbol]; ok && price.IsPositive() {
		return price, nil
	}
	return decimal.Zero, types.NewNoPositionData(symbol,
		fmt.Sprintf("no resolvable current price for %s", symbol))
}

// routeSell splits a sell across the brokers already holding the symbol,
// largest holding first, so both legs of a rebalance stay on the same
// account where possible.
func routeSell(symbol string, quantity, price decimal.Decimal, held *holding, reason string) []types.RebalanceTrade {
	var trades []types.RebalanceTrade
	remaining := quantity
	for _, l := range held.lots {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(l.quantity, remaining)
		if !take.IsPositive() {
			continue
		}
		trades = append(trades, types.RebalanceTrade{
			Symbol:         symbol,
			Side:           types.TradeSideSell,
			Quantity:       take,
			EstimatedValue: take.Mul(price),
			Broker:         brokerOrDefault(l.broker),
			Reason:         reason,
		})
		remaining = remaining.Sub(take)
	}
	return trades
}

// routeBuy picks the broker for a buy: the largest existing holding's
// broker when the symbol is held, else the first preferred broker, else the
// broker with the most available cash.
func routeBuy(snapshot *types.PortfolioSnapshot, target *types.TargetAllocation, held *holding) types.BrokerType {
	if held != nil && len(held.lots) > 0 {
		return brokerOrDefault(held.lots[0].broker)
	}
	if len(target.PreferredBrokers) > 0 {
		return target.PreferredBrokers[0]
	}
	if len(snapshot.BrokerCash) > 0 {
		var best types.BrokerType
		bestCash := decimal.NewFromInt(-1)
		for broker, cash := range snapshot.BrokerCash {
			if cash.GreaterThan(bestCash) || (cash.Equal(bestCash) && broker < best) {
				best, bestCash = broker, cash
			}
		}
		return best
	}
	return types.BrokerDefault
}

// taxEstimate applies the flat default rate to the gain realized by selling
// quantity at price against the value-weighted average cost.
func taxEstimate(costModel *types.CostModel, held *holding, quantity, price decimal.Decimal) decimal.Decimal {
	if held == nil || !price.GreaterThan(held.avgCost) {
		return decimal.Zero
	}
	gain := price.Sub(held.avgCost).Mul(quantity)
	return gain.Mul(costModel.TaxRateDefault)
}

func brokerOrDefault(broker types.BrokerType) types.BrokerType {
	if broker == "" {
		return types.BrokerDefault
	}
	return broker
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
