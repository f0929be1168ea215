// Package metrics derives portfolio-level risk, return and diversification
// metrics from a position snapshot.
package metrics

// Reference defaults applied when a symbol has no reference entry.
const (
	DefaultSector         = "Other"
	DefaultBeta           = 1.0
	DefaultVolatility     = 20.0
	DefaultExpectedReturn = 8.0
)

// SymbolReference holds per-symbol reference data used by the calculator.
// Volatility and ExpectedReturn are annualized percents.
type SymbolReference struct {
	Symbol         string  `json:"symbol"`
	Sector         string  `json:"sector"`
	Volatility     float64 `json:"volatility"`
	Beta           float64 `json:"beta"`
	ExpectedReturn float64 `json:"expectedReturn"`
}

// ReferenceSource resolves reference data for a symbol. Implementations
// return false when the symbol is unknown; the calculator then applies the
// defaults above.
type ReferenceSource interface {
	Reference(symbol string) (SymbolReference, bool)
}

// StaticReference is an in-memory ReferenceSource backed by a map.
type StaticReference map[string]SymbolReference

// Reference implements ReferenceSource.
func (r StaticReference) Reference(symbol string) (SymbolReference, bool) {
	ref, ok := r[symbol]
	return ref, ok
}

// normalize fills zero-valued fields of a reference row with defaults so a
// partial entry (sector only, say) still yields usable numbers.
func normalize(symbol string, ref SymbolReference, known bool) SymbolReference {
	if !known {
		return SymbolReference{
			Symbol:         symbol,
			Sector:         DefaultSector,
			Volatility:     DefaultVolatility,
			Beta:           DefaultBeta,
			ExpectedReturn: DefaultExpectedReturn,
		}
	}
	ref.Symbol = symbol
	if ref.Sector == "" {
		ref.Sector = DefaultSector
	}
	if ref.Volatility == 0 {
		ref.Volatility = DefaultVolatility
	}
	if ref.Beta == 0 {
		ref.Beta = DefaultBeta
	}
	if ref.ExpectedReturn == 0 {
		ref.ExpectedReturn = DefaultExpectedReturn
	}
	return ref
}
