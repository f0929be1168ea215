// Package types provides shared type definitions for the portfolio engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide represents buy or sell
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Valid reports whether the side is a known value.
func (s TradeSide) Valid() bool {
	return s == TradeSideBuy || s == TradeSideSell
}

// BrokerType identifies the brokerage account a position or trade belongs to.
// Free-form identifiers are accepted; the constants cover the connections the
// dashboard ships with.
type BrokerType string

const (
	BrokerAlpaca             BrokerType = "alpaca"
	BrokerInteractiveBrokers BrokerType = "interactive_brokers"
	BrokerRobinhood          BrokerType = "robinhood"
	BrokerSchwab             BrokerType = "schwab"
	BrokerPaper              BrokerType = "paper"
	BrokerSimulated          BrokerType = "simulated"
	BrokerDefault            BrokerType = "default"
)

// WarningSeverity grades advisory warnings attached to simulation results.
type WarningSeverity string

const (
	SeverityLow    WarningSeverity = "low"
	SeverityMedium WarningSeverity = "medium"
	SeverityHigh   WarningSeverity = "high"
)

// WarningType classifies advisory warnings.
type WarningType string

const (
	WarningTradeConcentration WarningType = "trade_concentration"
	WarningHighConcentration  WarningType = "high_concentration"
	WarningVolatilityIncrease WarningType = "volatility_increase"
	WarningLowCash            WarningType = "low_cash"
)

// StrategyType selects a simulation or backtest strategy.
type StrategyType string

const (
	StrategyBuyHold       StrategyType = "buy_hold"
	StrategyMomentum      StrategyType = "momentum"
	StrategyMeanReversion StrategyType = "mean_reversion"
	StrategyEnhanced      StrategyType = "enhanced"
)

// Valid reports whether the strategy is a known value.
func (s StrategyType) Valid() bool {
	switch s {
	case StrategyBuyHold, StrategyMomentum, StrategyMeanReversion, StrategyEnhanced:
		return true
	}
	return false
}

// RebalanceFrequency describes how often a target allocation is revisited.
// The engine treats it as metadata; scheduling belongs to the caller.
type RebalanceFrequency string

const (
	FrequencyManual    RebalanceFrequency = "manual"
	FrequencyDaily     RebalanceFrequency = "daily"
	FrequencyWeekly    RebalanceFrequency = "weekly"
	FrequencyMonthly   RebalanceFrequency = "monthly"
	FrequencyQuarterly RebalanceFrequency = "quarterly"
)

// Valid reports whether the frequency is a known value.
func (f RebalanceFrequency) Valid() bool {
	switch f {
	case FrequencyManual, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of an asynchronous engine job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Position is a single holding inside a portfolio snapshot. Quantity is
// signed; a negative quantity is a short position. CurrentPrice is supplied
// by the caller, never fetched.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avgCost"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Broker       BrokerType      `json:"broker,omitempty"`
}

// MarketValue returns quantity times current price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// UnrealizedPnL returns market value minus cost basis.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.MarketValue().Sub(p.Quantity.Mul(p.AvgCost))
}

// PortfolioSnapshot is the point-in-time portfolio state every engine
// operation consumes. It is immutable once passed in; simulators mutate a
// Clone only. BrokerCash optionally partitions Cash across accounts; when
// nil all cash is treated as a single pool.
type PortfolioSnapshot struct {
	Cash       decimal.Decimal                `json:"cash"`
	Positions  []Position                     `json:"positions"`
	BrokerCash map[BrokerType]decimal.Decimal `json:"brokerCash,omitempty"`
	AsOf       time.Time                      `json:"asOf,omitempty"`
}

// TotalValue returns cash plus the sum of position market values.
func (s *PortfolioSnapshot) TotalValue() decimal.Decimal {
	return s.Cash.Add(s.PositionsValue())
}

// PositionsValue returns the sum of position market values.
func (s *PortfolioSnapshot) PositionsValue() decimal.Decimal {
	total := decimal.Zero
	for i := range s.Positions {
		total = total.Add(s.Positions[i].MarketValue())
	}
	return total
}

// QuantityOf returns the total quantity held for a symbol across brokers.
func (s *PortfolioSnapshot) QuantityOf(symbol string) decimal.Decimal {
	total := decimal.Zero
	for i := range s.Positions {
		if s.Positions[i].Symbol == symbol {
			total = total.Add(s.Positions[i].Quantity)
		}
	}
	return total
}

// Clone returns a deep copy safe to mutate.
func (s *PortfolioSnapshot) Clone() *PortfolioSnapshot {
	clone := &PortfolioSnapshot{
		Cash:      s.Cash,
		Positions: make([]Position, len(s.Positions)),
		AsOf:      s.AsOf,
	}
	copy(clone.Positions, s.Positions)
	if s.BrokerCash != nil {
		clone.BrokerCash = make(map[BrokerType]decimal.Decimal, len(s.BrokerCash))
		for broker, cash := range s.BrokerCash {
			clone.BrokerCash[broker] = cash
		}
	}
	return clone
}

// Validate checks snapshot invariants: non-negative cash, unique
// symbol+broker pairs, positive prices, non-zero quantities, and a broker
// cash partition that sums to Cash when present.
func (s *PortfolioSnapshot) Validate() error {
	if s == nil {
		return NewInvalidSnapshot("snapshot", "snapshot is required")
	}
	if s.Cash.IsNegative() {
		return NewInvalidSnapshot("cash", "cash must not be negative")
	}
	seen := make(map[string]bool, len(s.Positions))
	for i := range s.Positions {
		pos := &s.Positions[i]
		field := fmt.Sprintf("positions[%d]", i)
		if pos.Symbol == "" {
			return NewInvalidSnapshot(field+".symbol", "symbol must not be empty")
		}
		if pos.Quantity.IsZero() {
			return NewInvalidSnapshot(field+".quantity", "quantity must not be zero")
		}
		if !pos.CurrentPrice.IsPositive() {
			return NewInvalidSnapshot(field+".currentPrice", "current price must be positive")
		}
		if pos.AvgCost.IsNegative() {
			return NewInvalidSnapshot(field+".avgCost", "average cost must not be negative")
		}
		key := pos.Symbol + "|" + string(pos.Broker)
		if seen[key] {
			return NewInvalidSnapshot(field, fmt.Sprintf("duplicate position for %s on broker %q", pos.Symbol, pos.Broker))
		}
		seen[key] = true
	}
	if s.BrokerCash != nil {
		sum := decimal.Zero
		for broker, cash := range s.BrokerCash {
			if cash.IsNegative() {
				return NewInvalidSnapshot("brokerCash."+string(broker), "broker cash must not be negative")
			}
			sum = sum.Add(cash)
		}
		if sum.Sub(s.Cash).Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
			return NewInvalidSnapshot("brokerCash", fmt.Sprintf("broker cash sums to %s, snapshot cash is %s", sum, s.Cash))
		}
	}
	return nil
}

// SimulatedTrade is a hypothetical trade to apply to a snapshot. Price is
// the estimated execution price; the trade carries no execution state.
type SimulatedTrade struct {
	Symbol   string          `json:"symbol"`
	Side     TradeSide       `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Notional returns quantity times price.
func (t *SimulatedTrade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Validate checks trade fields; field names are prefixed with the caller's
// context (e.g. "trades[2]").
func (t *SimulatedTrade) Validate(field string) error {
	if t.Symbol == "" {
		return NewInvalidConfig(field+".symbol", "symbol must not be empty")
	}
	if !t.Side.Valid() {
		return NewInvalidConfig(field+".side", fmt.Sprintf("unknown trade side %q", t.Side))
	}
	if !t.Quantity.IsPositive() {
		return NewInvalidConfig(field+".quantity", "quantity must be positive")
	}
	if !t.Price.IsPositive() {
		return NewInvalidConfig(field+".price", "price must be positive")
	}
	return nil
}

// PortfolioMetrics is the computed risk/return profile of a snapshot. It is
// derived fresh per call and never persisted. Percentages are 0-100 floats.
type PortfolioMetrics struct {
	TotalValue           decimal.Decimal    `json:"totalValue"`
	TotalCash            decimal.Decimal    `json:"totalCash"`
	DiversificationScore float64            `json:"diversificationScore"`
	ConcentrationRisk    float64            `json:"concentrationRisk"`
	Volatility           float64            `json:"volatility"`
	Beta                 float64            `json:"beta"`
	SharpeRatio          float64            `json:"sharpeRatio"`
	SectorExposure       map[string]float64 `json:"sectorExposure"`
}

// Warning is an advisory finding attached to a simulation result. Warnings
// never fail an operation; the caller decides what to do with them.
type Warning struct {
	Type     WarningType     `json:"type"`
	Severity WarningSeverity `json:"severity"`
	Message  string          `json:"message"`
}

// TradeImpact captures before/after deltas of a simulation and the symbols
// whose positions changed shape.
type TradeImpact struct {
	TotalValueChange      decimal.Decimal `json:"totalValueChange"`
	CashChange            decimal.Decimal `json:"cashChange"`
	DiversificationChange float64         `json:"diversificationChange"`
	ConcentrationChange   float64         `json:"concentrationChange"`
	VolatilityChange      float64         `json:"volatilityChange"`
	BetaChange            float64         `json:"betaChange"`
	SharpeChange          float64         `json:"sharpeChange"`
	NewPositions          []string        `json:"newPositions"`
	ClosedPositions       []string        `json:"closedPositions"`
	IncreasedPositions    []string        `json:"increasedPositions"`
	DecreasedPositions    []string        `json:"decreasedPositions"`
}

// TradeCosts aggregates estimated execution costs for a trade list.
type TradeCosts struct {
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	TaxImpact  decimal.Decimal `json:"taxImpact"`
	Total      decimal.Decimal `json:"total"`
}

// SimulationResult is the output of the trade impact simulator.
type SimulationResult struct {
	BeforeMetrics *PortfolioMetrics `json:"beforeMetrics"`
	AfterMetrics  *PortfolioMetrics `json:"afterMetrics"`
	Impact        TradeImpact       `json:"impact"`
	Costs         TradeCosts        `json:"costs"`
	Warnings      []Warning         `json:"warnings"`
}

// Scenario is a named trade list for comparison.
type Scenario struct {
	Name   string           `json:"name"`
	Trades []SimulatedTrade `json:"trades"`
}

// ScenarioOutcome pairs a scenario name with its simulation result.
type ScenarioOutcome struct {
	Name   string            `json:"name"`
	Result *SimulationResult `json:"result"`
}

// ComparisonResult ranks scenarios by simulated outcome. Scenarios are
// reported in input order; Best/Worst reference scenario names.
type ComparisonResult struct {
	Scenarios      []ScenarioOutcome `json:"scenarios"`
	BestScenario   string            `json:"bestScenario"`
	WorstScenario  string            `json:"worstScenario"`
	Recommendation string            `json:"recommendation"`
}

// AllocationTarget is one entry of a target allocation.
type AllocationTarget struct {
	Symbol        string  `json:"symbol"`
	TargetPercent float64 `json:"targetPercent"`
}

// TargetAllocation describes the desired portfolio weights. TargetPercent
// values must sum to 100 within 0.01.
type TargetAllocation struct {
	Name               string             `json:"name"`
	Targets            []AllocationTarget `json:"targets"`
	RebalanceThreshold float64            `json:"rebalanceThreshold"`
	Frequency          RebalanceFrequency `json:"frequency,omitempty"`
	PreferredBrokers   []BrokerType       `json:"preferredBrokers,omitempty"`
}

// Validate checks the allocation: known frequency, positive threshold,
// unique symbols, and percentages summing to 100 within tolerance.
func (a *TargetAllocation) Validate() error {
	if a == nil {
		return NewInvalidConfig("target", "target allocation is required")
	}
	if len(a.Targets) == 0 {
		return NewInvalidConfig("targets", "allocation must contain at least one target")
	}
	if a.RebalanceThreshold < 0 {
		return NewInvalidConfig("rebalanceThreshold", "threshold must not be negative")
	}
	if a.Frequency != "" && !a.Frequency.Valid() {
		return NewInvalidConfig("frequency", fmt.Sprintf("unknown rebalance frequency %q", a.Frequency))
	}
	seen := make(map[string]bool, len(a.Targets))
	sum := 0.0
	for i, target := range a.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		if target.Symbol == "" {
			return NewInvalidConfig(field+".symbol", "symbol must not be empty")
		}
		if target.TargetPercent < 0 || target.TargetPercent > 100 {
			return NewInvalidConfig(field+".targetPercent", "target percent must be between 0 and 100")
		}
		if seen[target.Symbol] {
			return NewInvalidConfig(field+".symbol", fmt.Sprintf("duplicate target for %s", target.Symbol))
		}
		seen[target.Symbol] = true
		sum += target.TargetPercent
	}
	if sum < 99.99 || sum > 100.01 {
		return NewAllocationMismatch("targets", fmt.Sprintf("target percentages sum to %.2f, expected 100", sum))
	}
	return nil
}

// AllocationDrift reports current vs target weight for one symbol.
type AllocationDrift struct {
	Symbol         string          `json:"symbol"`
	CurrentPercent float64         `json:"currentPercent"`
	TargetPercent  float64         `json:"targetPercent"`
	Drift          float64         `json:"drift"`
	CurrentValue   decimal.Decimal `json:"currentValue"`
}

// RebalanceTrade is one suggested trade with its broker routing and a
// human-readable reason.
type RebalanceTrade struct {
	Symbol         string          `json:"symbol"`
	Side           TradeSide       `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	EstimatedValue decimal.Decimal `json:"estimatedValue"`
	Broker         BrokerType      `json:"broker"`
	Reason         string          `json:"reason"`
}

// RebalanceSuggestion is the rebalancer output. Empty SuggestedTrades means
// the portfolio is within tolerance; that is success, not an error.
type RebalanceSuggestion struct {
	Allocations        []AllocationDrift `json:"allocations"`
	SuggestedTrades    []RebalanceTrade  `json:"suggestedTrades"`
	EstimatedFees      decimal.Decimal   `json:"estimatedFees"`
	EstimatedTaxImpact decimal.Decimal   `json:"estimatedTaxImpact"`
}

// CostModel parameterizes commission, slippage and tax estimates. Rates are
// fractions of notional, not percents.
type CostModel struct {
	CommissionFlat   decimal.Decimal `json:"commissionFlat"`
	CommissionRate   decimal.Decimal `json:"commissionRate"`
	SlippageRate     decimal.Decimal `json:"slippageRate"`
	TaxRateShortTerm decimal.Decimal `json:"taxRateShortTerm"`
	TaxRateLongTerm  decimal.Decimal `json:"taxRateLongTerm"`
	TaxRateDefault   decimal.Decimal `json:"taxRateDefault"`
}

// DefaultCostModel returns the stock cost assumptions: 0.1% commission,
// 0.05% slippage, 20% flat tax estimate when the holding period is unknown.
func DefaultCostModel() *CostModel {
	return &CostModel{
		CommissionFlat:   decimal.Zero,
		CommissionRate:   decimal.NewFromFloat(0.001),
		SlippageRate:     decimal.NewFromFloat(0.0005),
		TaxRateShortTerm: decimal.NewFromFloat(0.35),
		TaxRateLongTerm:  decimal.NewFromFloat(0.15),
		TaxRateDefault:   decimal.NewFromFloat(0.20),
	}
}

// Validate checks that rates are fractions in [0, 1) and the flat fee is
// non-negative.
func (c *CostModel) Validate() error {
	if c.CommissionFlat.IsNegative() {
		return NewInvalidConfig("costModel.commissionFlat", "flat commission must not be negative")
	}
	one := decimal.NewFromInt(1)
	rates := []struct {
		name  string
		value decimal.Decimal
	}{
		{"commissionRate", c.CommissionRate},
		{"slippageRate", c.SlippageRate},
		{"taxRateShortTerm", c.TaxRateShortTerm},
		{"taxRateLongTerm", c.TaxRateLongTerm},
		{"taxRateDefault", c.TaxRateDefault},
	}
	for _, rate := range rates {
		if rate.value.IsNegative() || rate.value.GreaterThanOrEqual(one) {
			return NewInvalidConfig("costModel."+rate.name, "rate must be a fraction in [0, 1)")
		}
	}
	return nil
}

// PricePoint is one bar of an externally supplied price history.
type PricePoint struct {
	Date  time.Time       `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// EquityPoint is one point of a backtest equity curve.
type EquityPoint struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// BacktestTrade is one executed trade of a backtest replay. PnL is set on
// closing trades only.
type BacktestTrade struct {
	Date     time.Time       `json:"date"`
	Symbol   string          `json:"symbol"`
	Side     TradeSide       `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	PnL      decimal.Decimal `json:"pnl"`
}

// BacktestConfig drives a strategy replay over caller-supplied histories.
type BacktestConfig struct {
	Strategy       StrategyType            `json:"strategy"`
	Params         map[string]float64      `json:"params,omitempty"`
	InitialCapital decimal.Decimal         `json:"initialCapital"`
	Series         map[string][]PricePoint `json:"series"`
	Costs          *CostModel              `json:"costs,omitempty"`
}

// Validate checks strategy, capital and series lengths.
func (c *BacktestConfig) Validate() error {
	if !c.Strategy.Valid() {
		return NewInvalidConfig("strategy", fmt.Sprintf("unknown strategy %q", c.Strategy))
	}
	if !c.InitialCapital.IsPositive() {
		return NewInvalidConfig("initialCapital", "initial capital must be positive")
	}
	if len(c.Series) == 0 {
		return NewInvalidConfig("series", "at least one price series is required")
	}
	for symbol, series := range c.Series {
		if len(series) < 2 {
			return NewInvalidConfig("series."+symbol, "price series must contain at least 2 points")
		}
		for i := range series {
			if !series[i].Close.IsPositive() {
				return NewInvalidConfig(fmt.Sprintf("series.%s[%d].close", symbol, i), "close price must be positive")
			}
		}
	}
	if c.Costs != nil {
		if err := c.Costs.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BacktestResult summarizes a strategy replay.
type BacktestResult struct {
	Strategy       StrategyType    `json:"strategy"`
	TotalReturn    float64         `json:"totalReturn"`
	SharpeRatio    float64         `json:"sharpeRatio"`
	MaxDrawdown    float64         `json:"maxDrawdown"`
	WinRate        float64         `json:"winRate"`
	ProfitFactor   float64         `json:"profitFactor"`
	TotalTrades    int             `json:"totalTrades"`
	WinningTrades  int             `json:"winningTrades"`
	LosingTrades   int             `json:"losingTrades"`
	AvgWin         decimal.Decimal `json:"avgWin"`
	AvgLoss        decimal.Decimal `json:"avgLoss"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	FinalCapital   decimal.Decimal `json:"finalCapital"`
	EquityCurve    []EquityPoint   `json:"equityCurve"`
	Trades         []BacktestTrade `json:"trades"`
}

// PerformanceStats summarizes a closed-trade P&L series.
type PerformanceStats struct {
	SharpeRatio  float64         `json:"sharpeRatio"`
	SortinoRatio float64         `json:"sortinoRatio"`
	MaxDrawdown  float64         `json:"maxDrawdown"`
	WinRate      float64         `json:"winRate"`
	ProfitFactor float64         `json:"profitFactor"`
	TotalTrades  int             `json:"totalTrades"`
	BestTrade    decimal.Decimal `json:"bestTrade"`
	WorstTrade   decimal.Decimal `json:"worstTrade"`
	AvgWin       decimal.Decimal `json:"avgWin"`
	AvgLoss      decimal.Decimal `json:"avgLoss"`
}
