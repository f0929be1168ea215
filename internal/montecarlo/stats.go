package montecarlo

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// sortedCopy returns an ascending copy of values for quantile math.
func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

// quantile returns the p-quantile of pre-sorted values using linear
// interpolation between order statistics.
func quantile(p float64, sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}

// summarize builds a ValueSummary over an unsorted value set.
func summarize(values []float64) types.ValueSummary {
	if len(values) == 0 {
		return types.ValueSummary{}
	}
	sorted := sortedCopy(values)
	return types.ValueSummary{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   stat.Mean(sorted, nil),
		Median: quantile(0.5, sorted),
		StdDev: stat.StdDev(sorted, nil),
	}
}

// drawdownSummary aggregates per-path maximum drawdowns.
func drawdownSummary(drawdowns []float64) types.DrawdownDistribution {
	if len(drawdowns) == 0 {
		return types.DrawdownDistribution{}
	}
	sorted := sortedCopy(drawdowns)
	return types.DrawdownDistribution{
		Mean:   stat.Mean(sorted, nil),
		Median: quantile(0.5, sorted),
		P95:    quantile(0.95, sorted),
		P99:    quantile(0.99, sorted),
	}
}

// histogram bins values into equal-width buckets over [min, max]. A
// degenerate set where every value is equal gets a single occupied bin of
// unit width.
func histogram(values []float64, bins int) types.Histogram {
	if len(values) == 0 || bins < 1 {
		return types.Histogram{}
	}
	sorted := sortedCopy(values)
	min, max := sorted[0], sorted[len(sorted)-1]
	if max == min {
		max = min + 1
	}
	width := (max - min) / float64(bins)

	edges := make([]float64, bins+1)
	for i := range edges {
		edges[i] = min + width*float64(i)
	}
	frequencies := make([]int, bins)
	for _, v := range values {
		idx := int((v - min) / width)
		if idx >= bins {
			idx = bins - 1
		}
		frequencies[idx]++
	}
	return types.Histogram{BinEdges: edges, Frequencies: frequencies}
}
