package backtest

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

func pnls(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestComputePerformance(t *testing.T) {
	stats, err := ComputePerformance(pnls(100, -50, 200, -25), decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("ComputePerformance failed: %v", err)
	}

	if stats.TotalTrades != 4 {
		t.Errorf("Expected 4 trades, got %d", stats.TotalTrades)
	}
	if stats.WinRate != 50 {
		t.Errorf("Expected win rate 50, got %.2f", stats.WinRate)
	}
	// Profit factor 300 / 75.
	if diff := stats.ProfitFactor - 4; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected profit factor 4, got %.4f", stats.ProfitFactor)
	}
	approx(t, "best trade", stats.BestTrade, 200)
	approx(t, "worst trade", stats.WorstTrade, -50)
	approx(t, "avg win", stats.AvgWin, 150)
	approx(t, "avg loss", stats.AvgLoss, 37.5)

	// Worst trade over capital: 50 / 10000.
	if diff := stats.MaxDrawdown - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected max drawdown 0.5%%, got %.4f", stats.MaxDrawdown)
	}
	if stats.SharpeRatio <= 0 {
		t.Errorf("Positive mean return should give positive Sharpe, got %.4f", stats.SharpeRatio)
	}
	if stats.SortinoRatio <= 0 {
		t.Errorf("Expected positive Sortino, got %.4f", stats.SortinoRatio)
	}
}

func TestComputePerformanceEmpty(t *testing.T) {
	stats, err := ComputePerformance(nil, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("Empty series should not error: %v", err)
	}
	if stats.TotalTrades != 0 || stats.WinRate != 0 || stats.SharpeRatio != 0 {
		t.Errorf("Expected zero-valued stats, got %+v", stats)
	}
}

func TestComputePerformanceAllWins(t *testing.T) {
	stats, err := ComputePerformance(pnls(10, 20, 30), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("ComputePerformance failed: %v", err)
	}
	if stats.ProfitFactor != 0 {
		t.Errorf("No losses means profit factor 0, got %.4f", stats.ProfitFactor)
	}
	if stats.MaxDrawdown != 0 {
		t.Errorf("No losing trade means drawdown 0, got %.4f", stats.MaxDrawdown)
	}
	if stats.WinRate != 100 {
		t.Errorf("Expected win rate 100, got %.2f", stats.WinRate)
	}
}

func TestComputePerformanceSingleTrade(t *testing.T) {
	stats, err := ComputePerformance(pnls(100), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("ComputePerformance failed: %v", err)
	}
	// One return has no dispersion; ratios stay zero.
	if stats.SharpeRatio != 0 || stats.SortinoRatio != 0 {
		t.Errorf("Expected zero ratios for one trade, got %+v", stats)
	}
}

func TestComputePerformanceInvalidCapital(t *testing.T) {
	if _, err := ComputePerformance(pnls(100), decimal.Zero); !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("Expected invalid config, got %v", err)
	}
}
