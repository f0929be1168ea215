package types

import "time"

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout"`
	AllowedOrigins  []string      `json:"allowedOrigins"`
	EnableMetrics   bool          `json:"enableMetrics"`
}

// DefaultServerConfig returns the standard server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
		EnableMetrics:   true,
	}
}

// EngineConfig holds the tunable analytics parameters shared by the metrics
// calculator and the trade impact simulator. Percent fields are 0-100;
// LowCashFraction is a fraction of total value.
type EngineConfig struct {
	RiskFreeRate             float64 `json:"riskFreeRate"`
	TradeConcentrationWarn   float64 `json:"tradeConcentrationWarn"`
	TradeConcentrationSevere float64 `json:"tradeConcentrationSevere"`
	ConcentrationCeiling     float64 `json:"concentrationCeiling"`
	VolatilityWarnDelta      float64 `json:"volatilityWarnDelta"`
	LowCashFraction          float64 `json:"lowCashFraction"`
}

// DefaultEngineConfig returns the stock analytics thresholds: warn when a
// single trade ends above 25% weight, flag portfolios above 40%
// concentration, warn on a 5-point volatility jump or cash below 5% of
// total value.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RiskFreeRate:             0,
		TradeConcentrationWarn:   25,
		TradeConcentrationSevere: 40,
		ConcentrationCeiling:     40,
		VolatilityWarnDelta:      5,
		LowCashFraction:          0.05,
	}
}

// DataConfig holds reference data storage settings.
type DataConfig struct {
	DataDir string `json:"dataDir"`
}

// WorkersConfig holds async job pool settings.
type WorkersConfig struct {
	PoolSize    int           `json:"poolSize"`
	QueueSize   int           `json:"queueSize"`
	JobTimeout  time.Duration `json:"jobTimeout"`
	StopTimeout time.Duration `json:"stopTimeout"`
}

// DefaultWorkersConfig returns the standard pool sizing.
func DefaultWorkersConfig() WorkersConfig {
	return WorkersConfig{
		PoolSize:    4,
		QueueSize:   64,
		JobTimeout:  5 * time.Minute,
		StopTimeout: 10 * time.Second,
	}
}
