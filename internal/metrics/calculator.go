package metrics

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Calculator computes PortfolioMetrics from snapshots. It is stateless and
// safe for concurrent use.
type Calculator struct {
	logger       *zap.Logger
	source       ReferenceSource
	riskFreeRate float64
}

// NewCalculator creates a metrics calculator. source may be nil, in which
// case every symbol gets default reference data.
func NewCalculator(logger *zap.Logger, source ReferenceSource, config types.EngineConfig) *Calculator {
	return &Calculator{
		logger:       logger,
		source:       source,
		riskFreeRate: config.RiskFreeRate,
	}
}

// Compute derives the full metrics set for a snapshot. Weights are fractions
// of total value (cash included in the denominator); exposure metrics use
// absolute weights so short positions count as risk, while beta, expected
// return and sector exposure keep the sign of the holding.
func (c *Calculator) Compute(snapshot *types.PortfolioSnapshot) (*types.PortfolioMetrics, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	totalValue := snapshot.TotalValue()
	if !totalValue.IsPositive() {
		return nil, types.NewInvalidSnapshot("totalValue",
			fmt.Sprintf("total value %s is not positive, ratio metrics are undefined", totalValue))
	}
	totalFloat, _ := totalValue.Float64()

	// Holdings split across brokers are one exposure per symbol.
	valueBySymbol := make(map[string]float64, len(snapshot.Positions))
	for i := range snapshot.Positions {
		value, _ := snapshot.Positions[i].MarketValue().Float64()
		valueBySymbol[snapshot.Positions[i].Symbol] += value
	}
	symbols := make([]string, 0, len(valueBySymbol))
	for symbol := range valueBySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	result := &types.PortfolioMetrics{
		TotalValue:     totalValue,
		TotalCash:      snapshot.Cash,
		SectorExposure: make(map[string]float64),
	}

	var hhi, maxWeight, volatility, beta, expectedReturn float64
	for _, symbol := range symbols {
		weight := valueBySymbol[symbol] / totalFloat
		absWeight := math.Abs(weight)

		hhi += absWeight * absWeight
		if absWeight > maxWeight {
			maxWeight = absWeight
		}

		ref := c.resolve(symbol)
		volatility += absWeight * ref.Volatility
		beta += weight * ref.Beta
		expectedReturn += weight * ref.ExpectedReturn
		result.SectorExposure[ref.Sector] += weight * 100
	}

	score := 100 * (1 - hhi)
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	result.DiversificationScore = score
	result.ConcentrationRisk = maxWeight * 100
	result.Volatility = volatility
	result.Beta = beta

	// Sentinel 0 when volatility is 0; never divide by zero.
	if volatility != 0 {
		result.SharpeRatio = (expectedReturn - c.riskFreeRate) / volatility
	}

	c.logger.Debug("Computed portfolio metrics",
		zap.String("totalValue", totalValue.String()),
		zap.Int("positions", len(snapshot.Positions)),
		zap.Float64("diversification", result.DiversificationScore),
		zap.Float64("concentration", result.ConcentrationRisk))

	return result, nil
}

// resolve looks up reference data, applying defaults for unknown symbols.
func (c *Calculator) resolve(symbol string) SymbolReference {
	if c.source != nil {
		if ref, ok := c.source.Reference(symbol); ok {
			return normalize(symbol, ref, true)
		}
	}
	return normalize(symbol, SymbolReference{}, false)
}
