package simulator_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/internal/metrics"
	"github.com/quantdesk/portfolio-engine/internal/simulator"
	"github.com/quantdesk/portfolio-engine/pkg/types"
)

func newSimulator() *simulator.Simulator {
	config := types.DefaultEngineConfig()
	calc := metrics.NewCalculator(zap.NewNop(), nil, config)
	return simulator.NewSimulator(zap.NewNop(), calc, config)
}

func zeroCosts() *types.CostModel {
	return &types.CostModel{}
}

func buy(symbol string, qty, price int64) types.SimulatedTrade {
	return types.SimulatedTrade{
		Symbol:   symbol,
		Side:     types.TradeSideBuy,
		Quantity: decimal.NewFromInt(qty),
		Price:    decimal.NewFromInt(price),
	}
}

func sell(symbol string, qty, price int64) types.SimulatedTrade {
	trade := buy(symbol, qty, price)
	trade.Side = types.TradeSideSell
	return trade
}

func snapshotAAPL() *types.PortfolioSnapshot {
	return &types.PortfolioSnapshot{
		Cash: decimal.NewFromInt(15000),
		Positions: []types.Position{{
			Symbol:       "AAPL",
			Quantity:     decimal.NewFromInt(10),
			AvgCost:      decimal.NewFromInt(150),
			CurrentPrice: decimal.NewFromInt(150),
		}},
	}
}

func TestSimulateBuyIncreasesPosition(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()

	result, err := sim.Simulate(snapshot, []types.SimulatedTrade{buy("AAPL", 10, 150)}, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	if !result.AfterMetrics.TotalCash.Equal(decimal.NewFromInt(13500)) {
		t.Errorf("Expected cash 13500, got %s", result.AfterMetrics.TotalCash)
	}
	if !result.Impact.CashChange.Equal(decimal.NewFromInt(-1500)) {
		t.Errorf("Expected cash change -1500, got %s", result.Impact.CashChange)
	}
	if len(result.Impact.NewPositions) != 0 {
		t.Errorf("Expected no new positions, got %v", result.Impact.NewPositions)
	}
	if len(result.Impact.IncreasedPositions) != 1 || result.Impact.IncreasedPositions[0] != "AAPL" {
		t.Errorf("Expected increased [AAPL], got %v", result.Impact.IncreasedPositions)
	}

	// The input snapshot must not be touched.
	if !snapshot.Cash.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("Input snapshot mutated: cash %s", snapshot.Cash)
	}
	if !snapshot.Positions[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Input snapshot mutated: quantity %s", snapshot.Positions[0].Quantity)
	}
}

func TestSimulateWeightedAverageCost(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()

	// Buying 10 more at 250 moves avg cost to (10*150 + 10*250)/20 = 200.
	result, err := sim.Simulate(snapshot, []types.SimulatedTrade{buy("AAPL", 10, 250)}, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if !result.Impact.CashChange.Equal(decimal.NewFromInt(-2500)) {
		t.Errorf("Expected cash change -2500, got %s", result.Impact.CashChange)
	}

	// Buying at the held price leaves avg cost unchanged.
	result, err = sim.Simulate(snapshot, []types.SimulatedTrade{buy("AAPL", 10, 150)}, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if result.Impact.TotalValueChange.Sign() != 0 {
		t.Errorf("Buying at current price should not change total value, got %s", result.Impact.TotalValueChange)
	}
}

func TestSimulateRoundTripRestoresCash(t *testing.T) {
	sim := newSimulator()
	snapshot := &types.PortfolioSnapshot{Cash: decimal.NewFromInt(10000)}

	trades := []types.SimulatedTrade{buy("MSFT", 20, 300), sell("MSFT", 20, 300)}
	result, err := sim.Simulate(snapshot, trades, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	if !result.AfterMetrics.TotalCash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Round trip should restore cash, got %s", result.AfterMetrics.TotalCash)
	}
	// The symbol was opened and closed within the same trade list; it is
	// neither new nor closed relative to the original snapshot.
	if len(result.Impact.NewPositions) != 0 || len(result.Impact.ClosedPositions) != 0 {
		t.Errorf("Unexpected position lists: new=%v closed=%v",
			result.Impact.NewPositions, result.Impact.ClosedPositions)
	}
}

func TestSimulateSellClosesPosition(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()

	result, err := sim.Simulate(snapshot, []types.SimulatedTrade{sell("AAPL", 10, 150)}, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if len(result.Impact.ClosedPositions) != 1 || result.Impact.ClosedPositions[0] != "AAPL" {
		t.Errorf("Expected closed [AAPL], got %v", result.Impact.ClosedPositions)
	}
	if !result.AfterMetrics.TotalCash.Equal(decimal.NewFromInt(16500)) {
		t.Errorf("Expected cash 16500, got %s", result.AfterMetrics.TotalCash)
	}
}

func TestSimulateOrderConvergence(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()

	tradeA := buy("AAPL", 5, 150)
	tradeB := buy("MSFT", 10, 300)

	both, err := sim.Simulate(snapshot, []types.SimulatedTrade{tradeA, tradeB}, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	// Applying B to a snapshot that already contains A's effect must match.
	intermediate := snapshotAAPL()
	intermediate.Cash = intermediate.Cash.Sub(decimal.NewFromInt(750))
	intermediate.Positions[0].Quantity = decimal.NewFromInt(15)
	stepwise, err := sim.Simulate(intermediate, []types.SimulatedTrade{tradeB}, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	if !both.AfterMetrics.TotalValue.Equal(stepwise.AfterMetrics.TotalValue) {
		t.Errorf("Total value diverged: %s vs %s",
			both.AfterMetrics.TotalValue, stepwise.AfterMetrics.TotalValue)
	}
	if !both.AfterMetrics.TotalCash.Equal(stepwise.AfterMetrics.TotalCash) {
		t.Errorf("Cash diverged: %s vs %s",
			both.AfterMetrics.TotalCash, stepwise.AfterMetrics.TotalCash)
	}
}

func TestSimulateInsufficientFunds(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()

	_, err := sim.Simulate(snapshot, []types.SimulatedTrade{buy("MSFT", 1000, 300)}, zeroCosts())
	if !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("Expected insufficient funds, got %v", err)
	}
}

func TestSimulateSlippageBufferBlocksBuy(t *testing.T) {
	sim := newSimulator()
	snapshot := &types.PortfolioSnapshot{Cash: decimal.NewFromInt(1500)}
	costs := &types.CostModel{SlippageRate: decimal.NewFromFloat(0.01)}

	// Notional is exactly the cash on hand; the slippage buffer pushes the
	// requirement above it.
	_, err := sim.Simulate(snapshot, []types.SimulatedTrade{buy("AAPL", 10, 150)}, costs)
	if !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("Expected insufficient funds with slippage buffer, got %v", err)
	}
}

func TestSimulateInsufficientShares(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()

	_, err := sim.Simulate(snapshot, []types.SimulatedTrade{sell("AAPL", 20, 150)}, zeroCosts())
	if !errors.Is(err, types.ErrInsufficientShares) {
		t.Fatalf("Expected insufficient shares, got %v", err)
	}

	// Selling a symbol that is not held at all is the same failure.
	_, err = sim.Simulate(snapshot, []types.SimulatedTrade{sell("MSFT", 1, 300)}, zeroCosts())
	if !errors.Is(err, types.ErrInsufficientShares) {
		t.Fatalf("Expected insufficient shares for unheld symbol, got %v", err)
	}
}

func TestSimulateCostEstimates(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()
	costs := types.DefaultCostModel()

	result, err := sim.Simulate(snapshot, []types.SimulatedTrade{sell("AAPL", 10, 200)}, costs)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	// Notional 2000: commission 2000*0.001, slippage 2000*0.0005, tax on
	// the 500 gain at the 20% default rate.
	if !result.Costs.Commission.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected commission 2, got %s", result.Costs.Commission)
	}
	if !result.Costs.Slippage.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected slippage 1, got %s", result.Costs.Slippage)
	}
	if !result.Costs.TaxImpact.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected tax impact 100, got %s", result.Costs.TaxImpact)
	}
	if !result.Costs.Total.Equal(decimal.NewFromInt(103)) {
		t.Errorf("Expected total 103, got %s", result.Costs.Total)
	}
}

func TestSimulateSellAtLossHasNoTax(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()

	result, err := sim.Simulate(snapshot, []types.SimulatedTrade{sell("AAPL", 10, 100)}, types.DefaultCostModel())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if !result.Costs.TaxImpact.IsZero() {
		t.Errorf("Loss should carry no tax estimate, got %s", result.Costs.TaxImpact)
	}
}

func TestSimulateConcentrationWarning(t *testing.T) {
	sim := newSimulator()
	snapshot := &types.PortfolioSnapshot{Cash: decimal.NewFromInt(100000)}

	// One trade ending at 60% of total value: trade concentration (high)
	// and post-trade portfolio concentration above the ceiling.
	result, err := sim.Simulate(snapshot, []types.SimulatedTrade{buy("NVDA", 600, 100)}, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	var tradeWarn, portfolioWarn bool
	for _, warning := range result.Warnings {
		switch warning.Type {
		case types.WarningTradeConcentration:
			tradeWarn = true
			if warning.Severity != types.SeverityHigh {
				t.Errorf("Expected high severity at 60%% weight, got %s", warning.Severity)
			}
		case types.WarningHighConcentration:
			portfolioWarn = true
		}
	}
	if !tradeWarn || !portfolioWarn {
		t.Errorf("Expected concentration warnings, got %v", result.Warnings)
	}
}

func TestSimulateLowCashWarning(t *testing.T) {
	sim := newSimulator()
	snapshot := &types.PortfolioSnapshot{Cash: decimal.NewFromInt(10000)}

	result, err := sim.Simulate(snapshot, []types.SimulatedTrade{buy("VTI", 49, 200)}, zeroCosts())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	found := false
	for _, warning := range result.Warnings {
		if warning.Type == types.WarningLowCash && warning.Severity == types.SeverityLow {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected low cash warning, got %v", result.Warnings)
	}
}

func TestSimulateNilSnapshot(t *testing.T) {
	sim := newSimulator()

	_, err := sim.Simulate(nil, nil, zeroCosts())
	if !errors.Is(err, types.ErrInvalidSnapshot) {
		t.Fatalf("Expected invalid snapshot, got %v", err)
	}
}

func TestSimulateRejectsInvalidTrade(t *testing.T) {
	sim := newSimulator()
	snapshot := snapshotAAPL()

	cases := []struct {
		name  string
		trade types.SimulatedTrade
	}{
		{"zero quantity", types.SimulatedTrade{Symbol: "AAPL", Side: types.TradeSideBuy, Quantity: decimal.Zero, Price: decimal.NewFromInt(150)}},
		{"zero price", types.SimulatedTrade{Symbol: "AAPL", Side: types.TradeSideBuy, Quantity: decimal.NewFromInt(1), Price: decimal.Zero}},
		{"bad side", types.SimulatedTrade{Symbol: "AAPL", Side: "hold", Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(150)}},
		{"no symbol", types.SimulatedTrade{Side: types.TradeSideBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(150)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sim.Simulate(snapshot, []types.SimulatedTrade{tc.trade}, zeroCosts())
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Fatalf("Expected invalid config, got %v", err)
			}
		})
	}
}
