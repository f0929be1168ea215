package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

func day(n int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func series(closes ...float64) []types.PricePoint {
	points := make([]types.PricePoint, len(closes))
	for i, close := range closes {
		points[i] = types.PricePoint{Date: day(i), Close: decimal.NewFromFloat(close)}
	}
	return points
}

func zeroCosts() *types.CostModel {
	return &types.CostModel{}
}

func approx(t *testing.T, name string, got decimal.Decimal, want float64) {
	t.Helper()
	value, _ := got.Float64()
	if diff := value - want; diff > 0.01 || diff < -0.01 {
		t.Errorf("%s: expected %.4f, got %.4f", name, want, value)
	}
}

func TestRunBuyHoldMarksToMarket(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	config := &types.BacktestConfig{
		Strategy:       types.StrategyBuyHold,
		InitialCapital: decimal.NewFromInt(10000),
		Series:         map[string][]types.PricePoint{"AAPL": series(100, 200)},
		Costs:          zeroCosts(),
	}

	result, err := engine.Run(context.Background(), config)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Entry commits 10% of cash: 10 shares at 100. The position doubles,
	// so equity ends at 9000 cash + 2000 marked.
	if len(result.Trades) != 1 {
		t.Fatalf("Expected 1 entry trade, got %d", len(result.Trades))
	}
	approx(t, "entry quantity", result.Trades[0].Quantity, 10)
	approx(t, "final capital", result.FinalCapital, 11000)
	if diff := result.TotalReturn - 10; diff > 0.01 || diff < -0.01 {
		t.Errorf("Expected total return 10%%, got %.4f", result.TotalReturn)
	}
	if result.MaxDrawdown != 0 {
		t.Errorf("Monotone equity has no drawdown, got %.4f", result.MaxDrawdown)
	}
	if result.TotalTrades != 0 {
		t.Errorf("No closed trades expected, got %d", result.TotalTrades)
	}
	if len(result.EquityCurve) != 2 {
		t.Fatalf("Expected 2 equity points, got %d", len(result.EquityCurve))
	}
	approx(t, "day-0 equity", result.EquityCurve[0].Value, 10000)
}

func TestRunDebitsTradingCosts(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	config := &types.BacktestConfig{
		Strategy:       types.StrategyBuyHold,
		InitialCapital: decimal.NewFromInt(10000),
		Series:         map[string][]types.PricePoint{"AAPL": series(100, 100)},
		Costs: &types.CostModel{
			CommissionFlat: decimal.NewFromInt(1),
			CommissionRate: decimal.NewFromFloat(0.001),
			SlippageRate:   decimal.NewFromFloat(0.0005),
		},
	}

	result, err := engine.Run(context.Background(), config)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Entry notional 1000 costs 1 + 1.00 + 0.50 on top.
	approx(t, "day-0 equity", result.EquityCurve[0].Value, 9997.5)
}

func TestRunBreakoutRoundTrip(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	config := &types.BacktestConfig{
		Strategy:       types.StrategyEnhanced,
		Params:         map[string]float64{"window": 3},
		InitialCapital: decimal.NewFromInt(10000),
		Series:         map[string][]types.PricePoint{"TSLA": series(100, 100, 100, 120, 120, 80)},
		Costs:          zeroCosts(),
	}

	result, err := engine.Run(context.Background(), config)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Breakout buys at 120 and the breakdown sells at 80.
	if len(result.Trades) != 2 {
		t.Fatalf("Expected entry and exit, got %d trades", len(result.Trades))
	}
	entry, exit := result.Trades[0], result.Trades[1]
	if entry.Side != types.TradeSideBuy || exit.Side != types.TradeSideSell {
		t.Fatalf("Expected buy then sell, got %s then %s", entry.Side, exit.Side)
	}
	approx(t, "entry quantity", entry.Quantity, 8.3333)
	approx(t, "exit pnl", exit.PnL, -333.33)

	if result.TotalTrades != 1 || result.LosingTrades != 1 {
		t.Errorf("Expected 1 losing closed trade, got %d total %d losing",
			result.TotalTrades, result.LosingTrades)
	}
	if result.WinRate != 0 {
		t.Errorf("Expected win rate 0, got %.2f", result.WinRate)
	}
	approx(t, "final capital", result.FinalCapital, 9666.67)
	if diff := result.MaxDrawdown - 3.3333; diff > 0.01 || diff < -0.01 {
		t.Errorf("Expected max drawdown ~3.33%%, got %.4f", result.MaxDrawdown)
	}
}

func TestRunOnePositionPerSymbol(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	config := &types.BacktestConfig{
		Strategy:       types.StrategyEnhanced,
		Params:         map[string]float64{"window": 2},
		InitialCapital: decimal.NewFromInt(10000),
		Series:         map[string][]types.PricePoint{"NVDA": series(100, 101, 102, 103, 104, 105)},
		Costs:          zeroCosts(),
	}

	result, err := engine.Run(context.Background(), config)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Every later bar is a fresh breakout, but the open position blocks
	// re-entry.
	if len(result.Trades) != 1 {
		t.Errorf("Expected a single entry, got %d trades", len(result.Trades))
	}
}

func TestRunMultiSymbolSizing(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	config := &types.BacktestConfig{
		Strategy:       types.StrategyBuyHold,
		InitialCapital: decimal.NewFromInt(10000),
		Series: map[string][]types.PricePoint{
			"AAPL": series(100, 100),
			"MSFT": series(50, 50),
		},
		Costs: zeroCosts(),
	}

	result, err := engine.Run(context.Background(), config)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Symbols process alphabetically; each entry takes 10% of the cash
	// remaining at that moment.
	if len(result.Trades) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(result.Trades))
	}
	if result.Trades[0].Symbol != "AAPL" || result.Trades[1].Symbol != "MSFT" {
		t.Errorf("Expected AAPL then MSFT, got %s then %s",
			result.Trades[0].Symbol, result.Trades[1].Symbol)
	}
	approx(t, "first notional", result.Trades[0].Quantity.Mul(result.Trades[0].Price), 1000)
	approx(t, "second notional", result.Trades[1].Quantity.Mul(result.Trades[1].Price), 900)
	approx(t, "final capital", result.FinalCapital, 10000)
}

func TestRunCancellation(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	config := &types.BacktestConfig{
		Strategy:       types.StrategyBuyHold,
		InitialCapital: decimal.NewFromInt(10000),
		Series:         map[string][]types.PricePoint{"AAPL": series(100, 101, 102)},
		Costs:          zeroCosts(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Run(ctx, config); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestRunValidation(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	cases := []struct {
		name   string
		config *types.BacktestConfig
	}{
		{"unknown strategy", &types.BacktestConfig{
			Strategy:       "hodl",
			InitialCapital: decimal.NewFromInt(10000),
			Series:         map[string][]types.PricePoint{"AAPL": series(100, 101)},
		}},
		{"non-positive capital", &types.BacktestConfig{
			Strategy: types.StrategyBuyHold,
			Series:   map[string][]types.PricePoint{"AAPL": series(100, 101)},
		}},
		{"empty series", &types.BacktestConfig{
			Strategy:       types.StrategyBuyHold,
			InitialCapital: decimal.NewFromInt(10000),
			Series:         map[string][]types.PricePoint{},
		}},
		{"short series", &types.BacktestConfig{
			Strategy:       types.StrategyBuyHold,
			InitialCapital: decimal.NewFromInt(10000),
			Series:         map[string][]types.PricePoint{"AAPL": series(100)},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Run(context.Background(), tc.config); !errors.Is(err, types.ErrInvalidConfig) {
				t.Fatalf("Expected invalid config, got %v", err)
			}
		})
	}
}
