package simulator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Compare runs every named scenario against the same snapshot and ranks the
// outcomes. Scenarios never interact; each simulation starts from a fresh
// clone. Ranking is by total value change, ties broken by lower post-trade
// volatility. A scenario that hard-fails (insufficient funds or shares)
// fails the whole comparison; bad inputs are never silently ranked away.
func (s *Simulator) Compare(snapshot *types.PortfolioSnapshot, scenarios []types.Scenario, costModel *types.CostModel) (*types.ComparisonResult, error) {
	if len(scenarios) == 0 {
		return nil, types.NewInvalidConfig("scenarios", "at least one scenario is required")
	}
	seen := make(map[string]bool, len(scenarios))
	for i := range scenarios {
		if scenarios[i].Name == "" {
			return nil, types.NewInvalidConfig(fmt.Sprintf("scenarios[%d].name", i), "scenario name must not be empty")
		}
		if seen[scenarios[i].Name] {
			return nil, types.NewInvalidConfig(fmt.Sprintf("scenarios[%d].name", i),
				fmt.Sprintf("duplicate scenario name %q", scenarios[i].Name))
		}
		seen[scenarios[i].Name] = true
	}

	result := &types.ComparisonResult{
		Scenarios: make([]types.ScenarioOutcome, 0, len(scenarios)),
	}

	best, worst := -1, -1
	lowestVol := -1
	for i := range scenarios {
		outcome, err := s.Simulate(snapshot, scenarios[i].Trades, costModel)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", scenarios[i].Name, err)
		}
		result.Scenarios = append(result.Scenarios, types.ScenarioOutcome{
			Name:   scenarios[i].Name,
			Result: outcome,
		})

		if best < 0 || betterOutcome(outcome, result.Scenarios[best].Result) {
			best = i
		}
		if worst < 0 || betterOutcome(result.Scenarios[worst].Result, outcome) {
			worst = i
		}
		if lowestVol < 0 || outcome.AfterMetrics.Volatility < result.Scenarios[lowestVol].Result.AfterMetrics.Volatility {
			lowestVol = i
		}
	}

	result.BestScenario = result.Scenarios[best].Name
	result.WorstScenario = result.Scenarios[worst].Name
	result.Recommendation = recommendation(result.Scenarios, best, lowestVol)

	s.logger.Debug("Compared scenarios",
		zap.Int("scenarios", len(scenarios)),
		zap.String("best", result.BestScenario),
		zap.String("worst", result.WorstScenario))

	return result, nil
}

// betterOutcome reports whether a ranks ahead of b: higher total value
// change, ties broken by lower post-trade volatility.
func betterOutcome(a, b *types.SimulationResult) bool {
	cmp := a.Impact.TotalValueChange.Cmp(b.Impact.TotalValueChange)
	if cmp != 0 {
		return cmp > 0
	}
	return a.AfterMetrics.Volatility < b.AfterMetrics.Volatility
}

// recommendation summarizes the trade-off between the best-value scenario
// and the lowest-risk one in a single line.
func recommendation(outcomes []types.ScenarioOutcome, best, lowestVol int) string {
	bestOutcome := outcomes[best]
	if best == lowestVol {
		return fmt.Sprintf("%q offers both the highest value change (%s) and the lowest post-trade volatility (%.1f%%)",
			bestOutcome.Name,
			bestOutcome.Result.Impact.TotalValueChange.StringFixed(2),
			bestOutcome.Result.AfterMetrics.Volatility)
	}
	calm := outcomes[lowestVol]
	return fmt.Sprintf("%q has the highest value change (%s); %q carries the lowest post-trade volatility (%.1f%% vs %.1f%%)",
		bestOutcome.Name,
		bestOutcome.Result.Impact.TotalValueChange.StringFixed(2),
		calm.Name,
		calm.Result.AfterMetrics.Volatility,
		bestOutcome.Result.AfterMetrics.Volatility)
}
