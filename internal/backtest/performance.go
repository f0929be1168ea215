package backtest

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/quantdesk/portfolio-engine/pkg/types"
	"github.com/quantdesk/portfolio-engine/pkg/utils"
)

// ComputePerformance summarizes a closed-trade P&L series against the
// capital it traded. Ratios are annualized over per-trade returns scaled by
// the initial capital; max drawdown uses the simplified worst-trade
// definition. An empty series yields zero-valued stats.
func ComputePerformance(pnls []decimal.Decimal, initialCapital decimal.Decimal) (*types.PerformanceStats, error) {
	if !initialCapital.IsPositive() {
		return nil, types.NewInvalidConfig("initialCapital", "initial capital must be positive")
	}

	stats := &types.PerformanceStats{TotalTrades: len(pnls)}
	if len(pnls) == 0 {
		return stats, nil
	}

	capital, _ := initialCapital.Float64()
	returns := make([]float64, len(pnls))
	downside := make([]float64, 0, len(pnls))

	wins, losses := 0, 0
	winSum, lossSum := decimal.Zero, decimal.Zero
	best, worst := pnls[0], pnls[0]

	for i, pnl := range pnls {
		value, _ := pnl.Float64()
		returns[i] = value / capital
		if returns[i] < 0 {
			downside = append(downside, returns[i])
		}

		if pnl.GreaterThan(best) {
			best = pnl
		}
		if pnl.LessThan(worst) {
			worst = pnl
		}
		if pnl.IsPositive() {
			wins++
			winSum = winSum.Add(pnl)
		} else {
			losses++
			lossSum = lossSum.Add(pnl.Abs())
		}
	}

	stats.BestTrade = best
	stats.WorstTrade = worst
	stats.WinRate, _ = utils.CalculateWinRate(pnls).Mul(decimal.NewFromInt(100)).Float64()
	if wins > 0 {
		stats.AvgWin = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		stats.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(losses)))
	}
	stats.ProfitFactor, _ = utils.CalculateProfitFactor(pnls).Float64()

	mean := stat.Mean(returns, nil)
	if len(returns) > 1 {
		if std := stat.StdDev(returns, nil); std > 0 {
			stats.SharpeRatio = mean / std * math.Sqrt(252)
		}
	}
	if len(downside) > 1 {
		if std := stat.StdDev(downside, nil); std > 0 {
			stats.SortinoRatio = mean / std * math.Sqrt(252)
		}
	}

	if worst.IsNegative() {
		worstFloat, _ := worst.Abs().Float64()
		stats.MaxDrawdown = worstFloat / capital * 100
	}

	return stats, nil
}
