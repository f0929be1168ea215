package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Monte Carlo simulation bounds. Requests outside these are rejected, not
// clamped.
const (
	MinSimulations = 100
	MaxSimulations = 5000
)

// MonteCarloConfig drives a stochastic path simulation for one symbol.
// Zero-valued optional fields are filled by ApplyDefaults.
type MonteCarloConfig struct {
	Symbol           string          `json:"symbol"`
	InitialCapital   decimal.Decimal `json:"initialCapital"`
	NumSimulations   int             `json:"numSimulations"`
	TimeHorizonDays  int             `json:"timeHorizonDays"`
	Strategy         StrategyType    `json:"strategy"`
	ConfidenceLevels []float64       `json:"confidenceLevels,omitempty"`
	Seed             int64           `json:"seed,omitempty"`
	RuinThreshold    float64         `json:"ruinThreshold,omitempty"`
	HistogramBins    int             `json:"histogramBins,omitempty"`
	Workers          int             `json:"workers,omitempty"`
}

// DefaultMonteCarloConfig returns a runnable configuration for a symbol.
func DefaultMonteCarloConfig(symbol string) MonteCarloConfig {
	return MonteCarloConfig{
		Symbol:           symbol,
		InitialCapital:   decimal.NewFromInt(100000),
		NumSimulations:   1000,
		TimeHorizonDays:  252,
		Strategy:         StrategyBuyHold,
		ConfidenceLevels: []float64{0.90, 0.95, 0.99},
		RuinThreshold:    0.5,
		HistogramBins:    20,
	}
}

// ApplyDefaults fills unset optional fields. It never overrides an explicit
// value.
func (c *MonteCarloConfig) ApplyDefaults() {
	if c.NumSimulations == 0 {
		c.NumSimulations = 1000
	}
	if c.Strategy == "" {
		c.Strategy = StrategyBuyHold
	}
	if len(c.ConfidenceLevels) == 0 {
		c.ConfidenceLevels = []float64{0.90, 0.95, 0.99}
	}
	if c.RuinThreshold == 0 {
		c.RuinThreshold = 0.5
	}
	if c.HistogramBins == 0 {
		c.HistogramBins = 20
	}
}

// Validate checks the configuration after defaults are applied.
func (c *MonteCarloConfig) Validate() error {
	if c.Symbol == "" {
		return NewInvalidConfig("symbol", "symbol must not be empty")
	}
	if !c.InitialCapital.IsPositive() {
		return NewInvalidConfig("initialCapital", "initial capital must be positive")
	}
	if c.NumSimulations < MinSimulations || c.NumSimulations > MaxSimulations {
		return NewInvalidConfig("numSimulations", fmt.Sprintf("must be between %d and %d", MinSimulations, MaxSimulations))
	}
	if c.TimeHorizonDays <= 0 {
		return NewInvalidConfig("timeHorizonDays", "time horizon must be positive")
	}
	if !c.Strategy.Valid() {
		return NewInvalidConfig("strategy", fmt.Sprintf("unknown strategy %q", c.Strategy))
	}
	for i, level := range c.ConfidenceLevels {
		if level <= 0 || level >= 1 {
			return NewInvalidConfig(fmt.Sprintf("confidenceLevels[%d]", i), "confidence level must be in (0, 1)")
		}
	}
	if c.RuinThreshold <= 0 || c.RuinThreshold >= 1 {
		return NewInvalidConfig("ruinThreshold", "ruin threshold must be in (0, 1)")
	}
	if c.HistogramBins < 2 {
		return NewInvalidConfig("histogramBins", "at least 2 histogram bins are required")
	}
	if c.Workers < 0 {
		return NewInvalidConfig("workers", "workers must not be negative")
	}
	return nil
}

// Calibration is the externally supplied stochastic model input for one
// symbol: daily log-return mean and volatility plus the current price.
type Calibration struct {
	Symbol          string          `json:"symbol"`
	DailyMean       float64         `json:"dailyMean"`
	DailyVolatility float64         `json:"dailyVolatility"`
	SpotPrice       decimal.Decimal `json:"spotPrice"`
	Source          string          `json:"source,omitempty"`
	AsOf            time.Time       `json:"asOf,omitempty"`
}

// Validate checks the calibration is usable. Zero volatility is allowed; a
// missing or non-positive spot price is treated as missing data.
func (c *Calibration) Validate() error {
	if !c.SpotPrice.IsPositive() {
		return NewNoPositionData("calibration.spotPrice", fmt.Sprintf("no usable price for %s", c.Symbol))
	}
	if c.DailyVolatility < 0 {
		return NewInvalidConfig("calibration.dailyVolatility", "volatility must not be negative")
	}
	return nil
}

// DrawdownDistribution summarizes per-path maximum drawdowns in percent.
type DrawdownDistribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// ValueSummary summarizes a set of final portfolio values.
type ValueSummary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stdDev"`
}

// Histogram is an equal-width binning of final returns. BinEdges has one
// more entry than Frequencies.
type Histogram struct {
	BinEdges    []float64 `json:"binEdges"`
	Frequencies []int     `json:"frequencies"`
}

// ConfidenceInterval is a lower/upper band of final portfolio values.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// DailyBand is the cross-path distribution of portfolio value on one day.
type DailyBand struct {
	Day    int     `json:"day"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P5     float64 `json:"p5"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
}

// ScenarioBucket reports the share and average return of one market regime
// bucket (bull, bear, sideways).
type ScenarioBucket struct {
	Probability float64 `json:"probability"`
	AvgReturn   float64 `json:"avgReturn"`
}

// MonteCarloResult aggregates a full path set. Returns and drawdowns are
// percents (0-100 scale); probabilities are fractions in [0, 1]; value
// summaries and confidence intervals are in account currency.
type MonteCarloResult struct {
	Symbol                  string                        `json:"symbol"`
	Strategy                StrategyType                  `json:"strategy"`
	NumSimulations          int                           `json:"numSimulations"`
	TimeHorizonDays         int                           `json:"timeHorizonDays"`
	Seed                    int64                         `json:"seed,omitempty"`
	ExpectedReturn          float64                       `json:"expectedReturn"`
	MedianReturn            float64                       `json:"medianReturn"`
	StandardDeviation       float64                       `json:"standardDeviation"`
	Skewness                float64                       `json:"skewness"`
	Kurtosis                float64                       `json:"kurtosis"`
	ValueAtRisk             map[string]float64            `json:"valueAtRisk"`
	ConditionalVaR          map[string]float64            `json:"conditionalVar"`
	MaxDrawdownDistribution DrawdownDistribution          `json:"maxDrawdownDistribution"`
	ProbabilityOfProfit     float64                       `json:"probabilityOfProfit"`
	ProbabilityOfLoss       float64                       `json:"probabilityOfLoss"`
	ProbabilityOfRuin       float64                       `json:"probabilityOfRuin"`
	ReturnDistribution      Histogram                     `json:"returnDistribution"`
	ConfidenceIntervals     map[string]ConfidenceInterval `json:"confidenceIntervals"`
	SimulationPaths         []DailyBand                   `json:"simulationPaths"`
	FinalValues             ValueSummary                  `json:"finalValues"`
	ScenarioAnalysis        map[string]ScenarioBucket     `json:"scenarioAnalysis"`
	ElapsedSeconds          float64                       `json:"elapsedSeconds"`
}
