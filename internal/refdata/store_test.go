package refdata_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/internal/metrics"
	"github.com/quantdesk/portfolio-engine/internal/refdata"
	"github.com/quantdesk/portfolio-engine/pkg/types"
)

func newStore(t *testing.T) (*refdata.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := refdata.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store, dir
}

func TestStoreRoundTrip(t *testing.T) {
	store, dir := newStore(t)

	ref := metrics.SymbolReference{Symbol: "AAPL", Sector: "Technology", Volatility: 22, Beta: 1.2, ExpectedReturn: 10}
	if err := store.PutReference(ref); err != nil {
		t.Fatalf("PutReference failed: %v", err)
	}
	calibration := types.Calibration{
		Symbol:          "AAPL",
		DailyMean:       0.0004,
		DailyVolatility: 0.014,
		SpotPrice:       decimal.NewFromInt(175),
	}
	if err := store.PutCalibration(calibration); err != nil {
		t.Fatalf("PutCalibration failed: %v", err)
	}

	// A fresh store over the same directory sees the persisted rows.
	reopened, err := refdata.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, ok := reopened.Reference("AAPL")
	if !ok || got.Sector != "Technology" {
		t.Errorf("Expected persisted reference, got %+v ok=%v", got, ok)
	}
	cal, ok := reopened.Calibration("AAPL")
	if !ok || !cal.SpotPrice.Equal(calibration.SpotPrice) {
		t.Errorf("Expected persisted calibration, got %+v ok=%v", cal, ok)
	}

	// Lookups are case-insensitive.
	if _, ok := reopened.Reference("aapl"); !ok {
		t.Error("Expected lowercase lookup to hit")
	}
}

func TestStoreUnknownSymbol(t *testing.T) {
	store, _ := newStore(t)

	if _, ok := store.Reference("ZZZZ"); ok {
		t.Error("Expected miss for unknown reference")
	}
	if _, ok := store.Calibration("ZZZZ"); ok {
		t.Error("Expected miss for unknown calibration")
	}
}

func TestStoreValidation(t *testing.T) {
	store, _ := newStore(t)

	if err := store.PutReference(metrics.SymbolReference{}); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("Expected invalid config for empty symbol, got %v", err)
	}
	if err := store.PutCalibration(types.Calibration{Symbol: "AAPL"}); !errors.Is(err, types.ErrNoPositionData) {
		t.Errorf("Expected no position data for missing spot, got %v", err)
	}
}

func TestStoreMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "reference.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := refdata.NewStore(zap.NewNop(), dir); err == nil {
		t.Fatal("Expected error for malformed reference file")
	}
}

func TestGenerateSampleData(t *testing.T) {
	store, _ := newStore(t)

	if err := store.GenerateSampleData(); err != nil {
		t.Fatalf("GenerateSampleData failed: %v", err)
	}
	if len(store.Symbols()) == 0 {
		t.Fatal("Expected seeded symbols")
	}
	if _, ok := store.Calibration("AAPL"); !ok {
		t.Error("Expected a seeded AAPL calibration")
	}

	// Seeding never clobbers an existing row.
	custom := metrics.SymbolReference{Symbol: "AAPL", Sector: "Custom"}
	if err := store.PutReference(custom); err != nil {
		t.Fatal(err)
	}
	if err := store.GenerateSampleData(); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Reference("AAPL")
	if got.Sector != "Custom" {
		t.Errorf("Sample data overwrote an existing row: %+v", got)
	}
}
