// Package backtest replays signal strategies over externally supplied price
// histories and reports the resulting equity curve and trade statistics.
package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/quantdesk/portfolio-engine/pkg/types"
	"github.com/quantdesk/portfolio-engine/pkg/utils"
)

// entrySizeFraction is the share of available cash committed per entry.
var entrySizeFraction = decimal.NewFromFloat(0.1)

// Engine replays a strategy bar by bar. It is stateless and safe for
// concurrent use; every Run owns its replay state.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// openPosition is one live holding during a replay. At most one per symbol.
type openPosition struct {
	quantity   decimal.Decimal
	entryPrice decimal.Decimal
	entryCost  decimal.Decimal
}

// Run replays the configured strategy over the supplied price series. Bars
// are processed in date order across all symbols; the context is checked
// once per bar date so long replays cancel promptly.
func (e *Engine) Run(ctx context.Context, config *types.BacktestConfig) (*types.BacktestResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	costs := config.Costs
	if costs == nil {
		costs = types.DefaultCostModel()
	}
	strategy, err := newRule(config.Strategy, config.Params)
	if err != nil {
		return nil, err
	}

	symbols, timeline := buildTimeline(config.Series)
	bars := indexBars(config.Series)

	e.logger.Info("Starting backtest",
		zap.String("strategy", string(config.Strategy)),
		zap.Int("symbols", len(symbols)),
		zap.Int("bars", len(timeline)))

	cash := config.InitialCapital
	positions := make(map[string]*openPosition)
	histories := make(map[string][]float64, len(symbols))
	lastPrice := make(map[string]decimal.Decimal, len(symbols))

	result := &types.BacktestResult{
		Strategy:       config.Strategy,
		InitialCapital: config.InitialCapital,
		EquityCurve:    make([]types.EquityPoint, 0, len(timeline)),
		Trades:         []types.BacktestTrade{},
	}

	for _, date := range timeline {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("backtest aborted at %s: %w", date.Format("2006-01-02"), ctx.Err())
		default:
		}

		for _, symbol := range symbols {
			price, ok := bars[symbol][date]
			if !ok {
				continue
			}
			lastPrice[symbol] = price
			closeFloat, _ := price.Float64()
			histories[symbol] = append(histories[symbol], closeFloat)

			switch strategy.Signal(histories[symbol]) {
			case signalBuy:
				if positions[symbol] != nil {
					continue
				}
				notional := cash.Mul(entrySizeFraction)
				quantity := notional.Div(price)
				if !quantity.IsPositive() {
					continue
				}
				cost := tradeCost(costs, notional)
				if notional.Add(cost).GreaterThan(cash) {
					continue
				}
				cash = cash.Sub(notional).Sub(cost)
				positions[symbol] = &openPosition{
					quantity:   quantity,
					entryPrice: price,
					entryCost:  cost,
				}
				result.Trades = append(result.Trades, types.BacktestTrade{
					Date:     date,
					Symbol:   symbol,
					Side:     types.TradeSideBuy,
					Quantity: quantity,
					Price:    price,
				})

			case signalSell:
				position := positions[symbol]
				if position == nil {
					continue
				}
				notional := position.quantity.Mul(price)
				cost := tradeCost(costs, notional)
				cash = cash.Add(notional).Sub(cost)
				pnl := price.Sub(position.entryPrice).Mul(position.quantity).
					Sub(position.entryCost).Sub(cost)
				result.Trades = append(result.Trades, types.BacktestTrade{
					Date:     date,
					Symbol:   symbol,
					Side:     types.TradeSideSell,
					Quantity: position.quantity,
					Price:    price,
					PnL:      pnl,
				})
				delete(positions, symbol)
			}
		}

		equity := cash
		for symbol, position := range positions {
			equity = equity.Add(position.quantity.Mul(lastPrice[symbol]))
		}
		result.EquityCurve = append(result.EquityCurve, types.EquityPoint{Date: date, Value: equity})
	}

	finalizeResult(result)

	e.logger.Info("Backtest complete",
		zap.String("strategy", string(config.Strategy)),
		zap.Float64("totalReturn", result.TotalReturn),
		zap.Int("trades", result.TotalTrades))

	return result, nil
}

// buildTimeline returns the sorted symbol list and the ascending union of
// bar dates across all series.
func buildTimeline(series map[string][]types.PricePoint) ([]string, []time.Time) {
	symbols := make([]string, 0, len(series))
	seen := make(map[time.Time]bool)
	timeline := make([]time.Time, 0)
	for symbol, points := range series {
		symbols = append(symbols, symbol)
		for i := range points {
			date := points[i].Date
			if !seen[date] {
				seen[date] = true
				timeline = append(timeline, date)
			}
		}
	}
	sort.Strings(symbols)
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })
	return symbols, timeline
}

// indexBars maps each symbol's series by bar date.
func indexBars(series map[string][]types.PricePoint) map[string]map[time.Time]decimal.Decimal {
	bars := make(map[string]map[time.Time]decimal.Decimal, len(series))
	for symbol, points := range series {
		index := make(map[time.Time]decimal.Decimal, len(points))
		for i := range points {
			index[points[i].Date] = points[i].Close
		}
		bars[symbol] = index
	}
	return bars
}

// tradeCost is commission plus slippage for one leg.
func tradeCost(costs *types.CostModel, notional decimal.Decimal) decimal.Decimal {
	return costs.CommissionFlat.
		Add(notional.Mul(costs.CommissionRate)).
		Add(notional.Mul(costs.SlippageRate))
}

// finalizeResult derives the summary statistics from the equity curve and
// the closed trades.
func finalizeResult(result *types.BacktestResult) {
	curve := result.EquityCurve
	if len(curve) == 0 {
		result.FinalCapital = result.InitialCapital
		return
	}
	result.FinalCapital = curve[len(curve)-1].Value

	initial, _ := result.InitialCapital.Float64()
	final, _ := result.FinalCapital.Float64()
	result.TotalReturn = (final - initial) / initial * 100

	values := make([]decimal.Decimal, len(curve))
	for i := range curve {
		values[i] = curve[i].Value
	}

	// Annualized Sharpe over daily equity returns.
	daily := utils.CalculateReturns(values)
	returns := make([]float64, len(daily))
	for i := range daily {
		returns[i], _ = daily[i].Float64()
	}
	if len(returns) > 1 {
		mean, std := stat.MeanStdDev(returns, nil)
		if std > 0 {
			result.SharpeRatio = mean / std * math.Sqrt(252)
		}
	}

	// Max drawdown from the running equity peak, in percent.
	result.MaxDrawdown, _ = utils.CalculateMaxDrawdown(values).Mul(decimal.NewFromInt(100)).Float64()

	pnls := make([]decimal.Decimal, 0, len(result.Trades))
	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, trade := range result.Trades {
		if trade.Side != types.TradeSideSell {
			continue
		}
		pnls = append(pnls, trade.PnL)
		result.TotalTrades++
		if trade.PnL.IsPositive() {
			result.WinningTrades++
			winSum = winSum.Add(trade.PnL)
		} else {
			result.LosingTrades++
			lossSum = lossSum.Add(trade.PnL.Abs())
		}
	}
	if result.TotalTrades > 0 {
		result.WinRate, _ = utils.CalculateWinRate(pnls).Mul(decimal.NewFromInt(100)).Float64()
	}
	if result.WinningTrades > 0 {
		result.AvgWin = winSum.Div(decimal.NewFromInt(int64(result.WinningTrades)))
	}
	if result.LosingTrades > 0 {
		result.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(result.LosingTrades)))
	}
	result.ProfitFactor, _ = utils.CalculateProfitFactor(pnls).Float64()
}
