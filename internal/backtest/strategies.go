package backtest

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Default lookback windows and bands. Overridable per run through
// BacktestConfig.Params.
const (
	defaultShortWindow     = 10
	defaultLongWindow      = 30
	defaultEntryBand       = 1.02
	defaultExitBand        = 0.98
	defaultBollingerWindow = 20
	defaultBollingerStdDev = 2.0
	defaultBreakoutWindow  = 20
)

// signal is a strategy's decision for one bar.
type signal int

const (
	signalHold signal = iota
	signalBuy
	signalSell
)

// rule turns a close-price history (oldest first, current bar last) into a
// trading signal.
type rule interface {
	Signal(closes []float64) signal
}

// newRule builds the signal rule for a strategy, applying parameter
// overrides from the request.
func newRule(strategy types.StrategyType, params map[string]float64) (rule, error) {
	switch strategy {
	case types.StrategyBuyHold:
		return buyHoldRule{}, nil
	case types.StrategyMomentum:
		return momentumRule{
			shortWindow: int(param(params, "shortWindow", defaultShortWindow)),
			longWindow:  int(param(params, "longWindow", defaultLongWindow)),
			entryBand:   param(params, "entryBand", defaultEntryBand),
			exitBand:    param(params, "exitBand", defaultExitBand),
		}, nil
	case types.StrategyMeanReversion:
		return meanReversionRule{
			window: int(param(params, "window", defaultBollingerWindow)),
			stdDev: param(params, "stdDev", defaultBollingerStdDev),
		}, nil
	case types.StrategyEnhanced:
		return breakoutRule{
			window: int(param(params, "window", defaultBreakoutWindow)),
		}, nil
	default:
		return nil, types.NewInvalidConfig("strategy", fmt.Sprintf("unknown strategy %q", strategy))
	}
}

func param(params map[string]float64, key string, fallback float64) float64 {
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return fallback
}

// buyHoldRule enters on the first bar and never exits.
type buyHoldRule struct{}

func (buyHoldRule) Signal(closes []float64) signal {
	if len(closes) == 1 {
		return signalBuy
	}
	return signalHold
}

// momentumRule compares a short moving average against a long one and
// requires the crossover to clear a band before acting.
type momentumRule struct {
	shortWindow int
	longWindow  int
	entryBand   float64
	exitBand    float64
}

func (r momentumRule) Signal(closes []float64) signal {
	if len(closes) < r.longWindow {
		return signalHold
	}
	short := stat.Mean(closes[len(closes)-r.shortWindow:], nil)
	long := stat.Mean(closes[len(closes)-r.longWindow:], nil)
	switch {
	case short > long*r.entryBand:
		return signalBuy
	case short < long*r.exitBand:
		return signalSell
	default:
		return signalHold
	}
}

// meanReversionRule buys below the lower Bollinger band and sells above the
// upper one.
type meanReversionRule struct {
	window int
	stdDev float64
}

func (r meanReversionRule) Signal(closes []float64) signal {
	if len(closes) < r.window {
		return signalHold
	}
	window := closes[len(closes)-r.window:]
	mean, std := stat.MeanStdDev(window, nil)
	close := closes[len(closes)-1]
	switch {
	case close < mean-r.stdDev*std:
		return signalBuy
	case close > mean+r.stdDev*std:
		return signalSell
	default:
		return signalHold
	}
}

// breakoutRule buys when the close breaks the trailing high of the prior
// window and sells when it breaks the trailing low. The current bar is
// excluded from the trailing range.
type breakoutRule struct {
	window int
}

func (r breakoutRule) Signal(closes []float64) signal {
	if len(closes) < r.window+1 {
		return signalHold
	}
	prior := closes[len(closes)-1-r.window : len(closes)-1]
	high, low := prior[0], prior[0]
	for _, c := range prior[1:] {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}
	close := closes[len(closes)-1]
	switch {
	case close > high:
		return signalBuy
	case close < low:
		return signalSell
	default:
		return signalHold
	}
}
