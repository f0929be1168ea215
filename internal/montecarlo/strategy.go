package montecarlo

import (
	"fmt"
	"math"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Strategy parameters. These are documented heuristics, not fitted models;
// the constants mirror the dashboard's backtesting rules.
const (
	momentumShortWindow = 10
	momentumLongWindow  = 30
	momentumEntryBand   = 1.02
	momentumExitBand    = 0.98

	bollingerWindow = 20
	bollingerStdDev = 2.0

	volTargetWindow = 10
	volTargetDaily  = 0.02
	exposureFloor   = 0.2
	exposureCap     = 1.5
)

// Strategy turns a simulated price series into a per-day exposure. Exposure
// scales the raw GBM return: value_t = value_{t-1} * (1 + exposure * ret_t).
// Implementations are stateful and must be created fresh for every path.
type Strategy interface {
	// Exposure returns the position size for the upcoming day given the
	// price history up to and including the prior day.
	Exposure(prices []float64) float64
}

// newStrategy returns a fresh strategy instance for one path.
func newStrategy(kind types.StrategyType) (Strategy, error) {
	switch kind {
	case types.StrategyBuyHold:
		return buyHoldStrategy{}, nil
	case types.StrategyMomentum:
		return &momentumStrategy{exposure: 1.0}, nil
	case types.StrategyMeanReversion:
		return &meanReversionStrategy{exposure: 1.0}, nil
	case types.StrategyEnhanced:
		return &enhancedStrategy{momentum: momentumStrategy{exposure: 1.0}}, nil
	}
	return nil, types.NewInvalidConfig("strategy", fmt.Sprintf("unknown strategy %q", kind))
}

// buyHoldStrategy holds full exposure for the whole horizon.
type buyHoldStrategy struct{}

func (buyHoldStrategy) Exposure(prices []float64) float64 { return 1.0 }

// momentumStrategy runs full exposure while the short moving average leads
// the long one and halves exposure when it lags, holding the previous
// exposure inside the band.
type momentumStrategy struct {
	exposure float64
}

func (m *momentumStrategy) Exposure(prices []float64) float64 {
	if len(prices) < momentumLongWindow {
		return m.exposure
	}
	short := mean(prices[len(prices)-momentumShortWindow:])
	long := mean(prices[len(prices)-momentumLongWindow:])
	switch {
	case short > long*momentumEntryBand:
		m.exposure = 1.0
	case short < long*momentumExitBand:
		m.exposure = 0.5
	}
	return m.exposure
}

// meanReversionStrategy levers up below the lower Bollinger band, cuts
// exposure above the upper band, and otherwise drifts back toward neutral.
type meanReversionStrategy struct {
	exposure float64
}

func (m *meanReversionStrategy) Exposure(prices []float64) float64 {
	if len(prices) < bollingerWindow {
		return m.exposure
	}
	window := prices[len(prices)-bollingerWindow:]
	mid := mean(window)
	sd := stddev(window, mid)
	price := prices[len(prices)-1]
	switch {
	case price < mid-bollingerStdDev*sd:
		m.exposure = exposureCap
	case price > mid+bollingerStdDev*sd:
		m.exposure = 0.5
	default:
		m.exposure += (1.0 - m.exposure) * 0.25
	}
	return m.exposure
}

// enhancedStrategy is the momentum rule scaled by inverse realized
// volatility so risk stays near a fixed daily target.
type enhancedStrategy struct {
	momentum momentumStrategy
}

func (e *enhancedStrategy) Exposure(prices []float64) float64 {
	base := e.momentum.Exposure(prices)
	if len(prices) < volTargetWindow+1 {
		return base
	}
	window := prices[len(prices)-volTargetWindow-1:]
	returns := make([]float64, len(window)-1)
	for i := 1; i < len(window); i++ {
		returns[i-1] = window[i]/window[i-1] - 1
	}
	realized := stddev(returns, mean(returns))
	if realized <= 0 {
		return base
	}
	scaled := base * volTargetDaily / realized
	return clamp(scaled, exposureFloor, exposureCap)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
