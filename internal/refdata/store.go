// Package refdata provides file-backed reference data: per-symbol sector and
// risk figures for the metrics calculator and stochastic calibrations for
// the Monte Carlo simulator.
package refdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/internal/metrics"
	"github.com/quantdesk/portfolio-engine/pkg/types"
	"github.com/quantdesk/portfolio-engine/pkg/utils"
)

const (
	referenceFile    = "reference.json"
	calibrationsFile = "calibrations.json"
)

// Store caches reference rows and calibrations in memory and persists them
// as JSON files under a data directory. Missing files mean an empty store;
// malformed files are errors.
type Store struct {
	mu           sync.RWMutex
	logger       *zap.Logger
	dataDir      string
	references   map[string]metrics.SymbolReference
	calibrations map[string]types.Calibration
}

// NewStore creates the data directory if needed and loads both files.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:       logger,
		dataDir:      dataDir,
		references:   make(map[string]metrics.SymbolReference),
		calibrations: make(map[string]types.Calibration),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := loadJSON(filepath.Join(dataDir, referenceFile), &store.references); err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}
	if err := loadJSON(filepath.Join(dataDir, calibrationsFile), &store.calibrations); err != nil {
		return nil, fmt.Errorf("failed to load calibrations: %w", err)
	}

	logger.Info("Reference data store ready",
		zap.String("dataDir", dataDir),
		zap.Int("references", len(store.references)),
		zap.Int("calibrations", len(store.calibrations)))

	return store, nil
}

// Reference implements metrics.ReferenceSource. Symbols are stored and
// looked up in normalized form, so casing never matters.
func (s *Store) Reference(symbol string) (metrics.SymbolReference, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.references[utils.NormalizeSymbol(symbol)]
	return ref, ok
}

// PutReference upserts a reference row and persists the file.
func (s *Store) PutReference(ref metrics.SymbolReference) error {
	ref.Symbol = utils.NormalizeSymbol(ref.Symbol)
	if ref.Symbol == "" {
		return types.NewInvalidConfig("reference.symbol", "symbol must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.references[ref.Symbol] = ref
	return s.saveReferences()
}

// Calibration returns the stored calibration for a symbol.
func (s *Store) Calibration(symbol string) (types.Calibration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	calibration, ok := s.calibrations[utils.NormalizeSymbol(symbol)]
	return calibration, ok
}

// PutCalibration validates, upserts and persists a calibration.
func (s *Store) PutCalibration(calibration types.Calibration) error {
	calibration.Symbol = utils.NormalizeSymbol(calibration.Symbol)
	if calibration.Symbol == "" {
		return types.NewInvalidConfig("calibration.symbol", "symbol must not be empty")
	}
	if err := calibration.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calibrations[calibration.Symbol] = calibration
	return s.saveCalibrations()
}

// Symbols returns the sorted union of symbols with any stored data.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.references)+len(s.calibrations))
	for symbol := range s.references {
		seen[symbol] = true
	}
	for symbol := range s.calibrations {
		seen[symbol] = true
	}
	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// GenerateSampleData seeds a development symbol set. Existing entries are
// not overwritten.
func (s *Store) GenerateSampleData() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := []struct {
		ref       metrics.SymbolReference
		dailyMean float64
		dailyVol  float64
		spot      float64
	}{
		{metrics.SymbolReference{Symbol: "AAPL", Sector: "Technology", Volatility: 22.0, Beta: 1.2, ExpectedReturn: 10.0}, 0.0004, 0.014, 175},
		{metrics.SymbolReference{Symbol: "MSFT", Sector: "Technology", Volatility: 20.0, Beta: 1.1, ExpectedReturn: 9.5}, 0.0004, 0.013, 410},
		{metrics.SymbolReference{Symbol: "NVDA", Sector: "Technology", Volatility: 45.0, Beta: 1.8, ExpectedReturn: 18.0}, 0.0010, 0.028, 120},
		{metrics.SymbolReference{Symbol: "JPM", Sector: "Financials", Volatility: 24.0, Beta: 1.1, ExpectedReturn: 8.0}, 0.0003, 0.015, 205},
		{metrics.SymbolReference{Symbol: "JNJ", Sector: "Healthcare", Volatility: 14.0, Beta: 0.6, ExpectedReturn: 6.0}, 0.0002, 0.009, 155},
		{metrics.SymbolReference{Symbol: "XOM", Sector: "Energy", Volatility: 28.0, Beta: 0.9, ExpectedReturn: 7.0}, 0.0002, 0.018, 115},
		{metrics.SymbolReference{Symbol: "SPY", Sector: "Index", Volatility: 16.0, Beta: 1.0, ExpectedReturn: 8.0}, 0.0003, 0.010, 560},
	}

	now := time.Now().UTC()
	for _, sample := range samples {
		if _, ok := s.references[sample.ref.Symbol]; !ok {
			s.references[sample.ref.Symbol] = sample.ref
		}
		if _, ok := s.calibrations[sample.ref.Symbol]; !ok {
			s.calibrations[sample.ref.Symbol] = types.Calibration{
				Symbol:          sample.ref.Symbol,
				DailyMean:       sample.dailyMean,
				DailyVolatility: sample.dailyVol,
				SpotPrice:       decimal.NewFromFloat(sample.spot),
				Source:          "sample",
				AsOf:            now,
			}
		}
	}

	if err := s.saveReferences(); err != nil {
		return err
	}
	return s.saveCalibrations()
}

func (s *Store) saveReferences() error {
	return saveJSON(filepath.Join(s.dataDir, referenceFile), s.references)
}

func (s *Store) saveCalibrations() error {
	return saveJSON(filepath.Join(s.dataDir, calibrationsFile), s.calibrations)
}

// loadJSON reads a JSON file into target. A missing file is not an error.
func loadJSON(filename string, target interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(filename), err)
	}
	return nil
}

// saveJSON writes atomically via a temp file and rename, so a crash mid-write
// never leaves a truncated file behind.
func saveJSON(filename string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(filename), err)
	}

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(filename), err)
	}
	return nil
}
