// Package montecarlo estimates the outcome distribution of holding one
// instrument under a trading strategy, by simulating geometric Brownian
// motion price paths and aggregating tail-risk statistics over the full
// path set.
package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Return classification thresholds for scenario analysis, in percent.
const (
	bullThreshold = 15.0
	bearThreshold = -10.0
)

// Simulator runs Monte Carlo path simulations. It is stateless and safe for
// concurrent use; every Run works on its own path set.
type Simulator struct {
	logger *zap.Logger
}

// NewSimulator creates a Monte Carlo simulator.
func NewSimulator(logger *zap.Logger) *Simulator {
	return &Simulator{logger: logger}
}

// pathResult holds the per-path outputs needed for aggregation.
type pathResult struct {
	values      []float64
	finalValue  float64
	minValue    float64
	maxDrawdown float64
}

// Run simulates config.NumSimulations price paths and aggregates them into
// a MonteCarloResult. Cancellation is cooperative: workers check the context
// between paths, never mid-path, and a cancelled or timed-out run returns an
// error with no partial result because percentile and VaR aggregation is
// only correct over the full path set.
func (s *Simulator) Run(ctx context.Context, config types.MonteCarloConfig, calibration types.Calibration) (*types.MonteCarloResult, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := calibration.Validate(); err != nil {
		return nil, err
	}
	if _, err := newStrategy(config.Strategy); err != nil {
		return nil, err
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	workers := config.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers > config.NumSimulations {
		workers = config.NumSimulations
	}

	started := time.Now()
	initial, _ := config.InitialCapital.Float64()

	s.logger.Info("Starting Monte Carlo simulation",
		zap.String("symbol", config.Symbol),
		zap.String("strategy", string(config.Strategy)),
		zap.Int("simulations", config.NumSimulations),
		zap.Int("horizonDays", config.TimeHorizonDays),
		zap.Int("workers", workers))

	paths := make([]pathResult, config.NumSimulations)
	var wg sync.WaitGroup
	// Each worker owns a fixed stripe of path indices and a seeded RNG, so
	// a run with an explicit seed replays exactly regardless of scheduling.
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(workerID)))
			for i := workerID; i < config.NumSimulations; i += workers {
				if ctx.Err() != nil {
					return
				}
				strategy, _ := newStrategy(config.Strategy)
				paths[i] = generatePath(rng, strategy, &config, &calibration, initial)
			}
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("monte carlo run aborted after %d of %d paths: %w",
			completedPaths(paths), config.NumSimulations, err)
	}

	result := s.aggregate(paths, &config, initial)
	elapsed := time.Since(started)
	result.Seed = seed
	result.ElapsedSeconds = elapsed.Seconds()

	s.logger.Info("Monte Carlo simulation complete",
		zap.String("symbol", config.Symbol),
		zap.Float64("expectedReturn", result.ExpectedReturn),
		zap.Float64("probabilityOfRuin", result.ProbabilityOfRuin),
		zap.Duration("elapsed", elapsed))

	return result, nil
}

// generatePath simulates one GBM price path and the portfolio value under
// the strategy's exposure rule. Generation is strictly sequential within a
// path; each day's price depends on the prior day's.
func generatePath(rng *rand.Rand, strategy Strategy, config *types.MonteCarloConfig, calibration *types.Calibration, initial float64) pathResult {
	spot, _ := calibration.SpotPrice.Float64()
	mu := calibration.DailyMean
	sigma := calibration.DailyVolatility
	drift := mu - sigma*sigma/2

	prices := make([]float64, 1, config.TimeHorizonDays+1)
	prices[0] = spot

	values := make([]float64, config.TimeHorizonDays+1)
	values[0] = initial

	value := initial
	minValue := initial
	peak := initial
	maxDrawdown := 0.0

	for day := 1; day <= config.TimeHorizonDays; day++ {
		exposure := strategy.Exposure(prices)

		price := prices[day-1] * math.Exp(drift+sigma*rng.NormFloat64())
		rawReturn := price/prices[day-1] - 1
		prices = append(prices, price)

		value *= 1 + exposure*rawReturn
		values[day] = value

		if value < minValue {
			minValue = value
		}
		if value > peak {
			peak = value
		} else if peak > 0 {
			if dd := (peak - value) / peak * 100; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	return pathResult{
		values:      values,
		finalValue:  value,
		minValue:    minValue,
		maxDrawdown: maxDrawdown,
	}
}

// aggregate reduces the full path set into the result record. Returns and
// drawdowns are percents; probabilities are fractions.
func (s *Simulator) aggregate(paths []pathResult, config *types.MonteCarloConfig, initial float64) *types.MonteCarloResult {
	n := len(paths)
	finalReturns := make([]float64, n)
	finalValues := make([]float64, n)
	drawdowns := make([]float64, n)
	losses := make([]float64, n)

	profitable, losing, ruined := 0, 0, 0
	ruinLevel := initial * config.RuinThreshold

	for i := range paths {
		finalValues[i] = paths[i].finalValue
		finalReturns[i] = (paths[i].finalValue - initial) / initial * 100
		losses[i] = -finalReturns[i]
		drawdowns[i] = paths[i].maxDrawdown

		// Exact-breakeven paths count in neither profit nor loss, so the
		// three fractions always partition to one.
		if paths[i].finalValue > initial {
			profitable++
		} else if paths[i].finalValue < initial {
			losing++
		}
		if paths[i].minValue < ruinLevel {
			ruined++
		}
	}

	sortedReturns := sortedCopy(finalReturns)
	sortedValues := sortedCopy(finalValues)
	sortedLosses := sortedCopy(losses)

	result := &types.MonteCarloResult{
		Symbol:                  config.Symbol,
		Strategy:                config.Strategy,
		NumSimulations:          n,
		TimeHorizonDays:         config.TimeHorizonDays,
		ExpectedReturn:          stat.Mean(finalReturns, nil),
		MedianReturn:            quantile(0.5, sortedReturns),
		StandardDeviation:       stat.StdDev(finalReturns, nil),
		Skewness:                stat.Skew(finalReturns, nil),
		Kurtosis:                stat.ExKurtosis(finalReturns, nil),
		ValueAtRisk:             make(map[string]float64, len(config.ConfidenceLevels)),
		ConditionalVaR:          make(map[string]float64, len(config.ConfidenceLevels)),
		ConfidenceIntervals:     make(map[string]types.ConfidenceInterval, len(config.ConfidenceLevels)),
		MaxDrawdownDistribution: drawdownSummary(drawdowns),
		ProbabilityOfProfit:     float64(profitable) / float64(n),
		ProbabilityOfLoss:       float64(losing) / float64(n),
		ProbabilityOfRuin:       float64(ruined) / float64(n),
		ReturnDistribution:      histogram(finalReturns, config.HistogramBins),
		SimulationPaths:         dailyBands(paths, config.TimeHorizonDays),
		FinalValues:             summarize(finalValues),
		ScenarioAnalysis:        scenarioAnalysis(finalReturns),
	}

	for _, level := range config.ConfidenceLevels {
		key := fmt.Sprintf("%.2f", level)

		// VaR at level c is the c-quantile of losses; CVaR averages the
		// tail at or beyond it. Both clamp at zero when expressed as
		// percent lost, and CVaR never drops below VaR.
		rawVaR := quantile(level, sortedLosses)
		cvar := tailMean(sortedLosses, rawVaR)
		vaR := math.Max(rawVaR, 0)
		result.ValueAtRisk[key] = vaR
		result.ConditionalVaR[key] = math.Max(cvar, vaR)

		result.ConfidenceIntervals[key] = types.ConfidenceInterval{
			Lower: quantile(1-level, sortedValues),
			Upper: quantile(level, sortedValues),
		}
	}

	return result
}

// dailyBands computes cross-path percentile bands for every day of the
// horizon from the complete path set.
func dailyBands(paths []pathResult, horizonDays int) []types.DailyBand {
	bands := make([]types.DailyBand, horizonDays+1)
	dayValues := make([]float64, len(paths))
	for day := 0; day <= horizonDays; day++ {
		for i := range paths {
			dayValues[i] = paths[i].values[day]
		}
		sorted := sortedCopy(dayValues)
		bands[day] = types.DailyBand{
			Day:    day,
			Mean:   stat.Mean(sorted, nil),
			Median: quantile(0.5, sorted),
			P5:     quantile(0.05, sorted),
			P25:    quantile(0.25, sorted),
			P75:    quantile(0.75, sorted),
			P95:    quantile(0.95, sorted),
		}
	}
	return bands
}

// scenarioAnalysis buckets final returns into bull, bear and sideways
// regimes with per-bucket probability and average return.
func scenarioAnalysis(finalReturns []float64) map[string]types.ScenarioBucket {
	buckets := map[string][]float64{"bull": nil, "bear": nil, "sideways": nil}
	for _, ret := range finalReturns {
		switch {
		case ret > bullThreshold:
			buckets["bull"] = append(buckets["bull"], ret)
		case ret < bearThreshold:
			buckets["bear"] = append(buckets["bear"], ret)
		default:
			buckets["sideways"] = append(buckets["sideways"], ret)
		}
	}

	total := float64(len(finalReturns))
	result := make(map[string]types.ScenarioBucket, len(buckets))
	for name, returns := range buckets {
		bucket := types.ScenarioBucket{Probability: float64(len(returns)) / total}
		if len(returns) > 0 {
			bucket.AvgReturn = stat.Mean(returns, nil)
		}
		result[name] = bucket
	}
	return result
}

// tailMean averages the sorted losses at or beyond the threshold.
func tailMean(sortedLosses []float64, threshold float64) float64 {
	sum, count := 0.0, 0
	for i := len(sortedLosses) - 1; i >= 0; i-- {
		if sortedLosses[i] < threshold {
			break
		}
		sum += sortedLosses[i]
		count++
	}
	if count == 0 {
		return threshold
	}
	return sum / float64(count)
}

// completedPaths counts paths generated before an aborted run stopped.
func completedPaths(paths []pathResult) int {
	count := 0
	for i := range paths {
		if paths[i].values != nil {
			count++
		}
	}
	return count
}
