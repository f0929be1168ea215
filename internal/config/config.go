// Package config loads server configuration from a YAML file, environment
// variables and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// envPrefix scopes environment overrides, e.g. QUANTDESK_SERVER_PORT.
const envPrefix = "QUANTDESK"

// Config is the full runtime configuration.
type Config struct {
	Server  types.ServerConfig  `mapstructure:"server"`
	Engine  types.EngineConfig  `mapstructure:"engine"`
	Costs   CostsConfig         `mapstructure:"costs"`
	Data    types.DataConfig    `mapstructure:"data"`
	Workers types.WorkersConfig `mapstructure:"workers"`
	Logging LoggingConfig       `mapstructure:"logging"`
}

// CostsConfig mirrors types.CostModel with plain floats so it unmarshals
// cleanly from YAML and env strings.
type CostsConfig struct {
	CommissionFlat   float64 `mapstructure:"commissionFlat"`
	CommissionRate   float64 `mapstructure:"commissionRate"`
	SlippageRate     float64 `mapstructure:"slippageRate"`
	TaxRateShortTerm float64 `mapstructure:"taxRateShortTerm"`
	TaxRateLongTerm  float64 `mapstructure:"taxRateLongTerm"`
	TaxRateDefault   float64 `mapstructure:"taxRateDefault"`
}

// CostModel converts the float configuration into the decimal cost model
// used by the engine.
func (c CostsConfig) CostModel() *types.CostModel {
	return &types.CostModel{
		CommissionFlat:   decimal.NewFromFloat(c.CommissionFlat),
		CommissionRate:   decimal.NewFromFloat(c.CommissionRate),
		SlippageRate:     decimal.NewFromFloat(c.SlippageRate),
		TaxRateShortTerm: decimal.NewFromFloat(c.TaxRateShortTerm),
		TaxRateLongTerm:  decimal.NewFromFloat(c.TaxRateLongTerm),
		TaxRateDefault:   decimal.NewFromFloat(c.TaxRateDefault),
	}
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given file path (optional), the
// QUANTDESK_* environment and built-in defaults, in that precedence order
// from highest to lowest: env, file, defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return types.NewInvalidConfig("server.port", fmt.Sprintf("port %d out of range", c.Server.Port))
	}
	if c.Workers.PoolSize < 1 {
		return types.NewInvalidConfig("workers.poolSize", "pool size must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return types.NewInvalidConfig("workers.queueSize", "queue size must be at least 1")
	}
	if err := c.Costs.CostModel().Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return types.NewInvalidConfig("logging.level", fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	server := types.DefaultServerConfig()
	v.SetDefault("server.host", server.Host)
	v.SetDefault("server.port", server.Port)
	v.SetDefault("server.readTimeout", server.ReadTimeout)
	v.SetDefault("server.writeTimeout", server.WriteTimeout)
	v.SetDefault("server.shutdownTimeout", server.ShutdownTimeout)
	v.SetDefault("server.allowedOrigins", server.AllowedOrigins)
	v.SetDefault("server.enableMetrics", server.EnableMetrics)

	engine := types.DefaultEngineConfig()
	v.SetDefault("engine.riskFreeRate", engine.RiskFreeRate)
	v.SetDefault("engine.tradeConcentrationWarn", engine.TradeConcentrationWarn)
	v.SetDefault("engine.tradeConcentrationSevere", engine.TradeConcentrationSevere)
	v.SetDefault("engine.concentrationCeiling", engine.ConcentrationCeiling)
	v.SetDefault("engine.volatilityWarnDelta", engine.VolatilityWarnDelta)
	v.SetDefault("engine.lowCashFraction", engine.LowCashFraction)

	costs := types.DefaultCostModel()
	v.SetDefault("costs.commissionFlat", costs.CommissionFlat.InexactFloat64())
	v.SetDefault("costs.commissionRate", costs.CommissionRate.InexactFloat64())
	v.SetDefault("costs.slippageRate", costs.SlippageRate.InexactFloat64())
	v.SetDefault("costs.taxRateShortTerm", costs.TaxRateShortTerm.InexactFloat64())
	v.SetDefault("costs.taxRateLongTerm", costs.TaxRateLongTerm.InexactFloat64())
	v.SetDefault("costs.taxRateDefault", costs.TaxRateDefault.InexactFloat64())

	v.SetDefault("data.dataDir", "./data")

	workers := types.DefaultWorkersConfig()
	v.SetDefault("workers.poolSize", workers.PoolSize)
	v.SetDefault("workers.queueSize", workers.QueueSize)
	v.SetDefault("workers.jobTimeout", workers.JobTimeout)
	v.SetDefault("workers.stopTimeout", workers.StopTimeout)

	v.SetDefault("logging.level", "info")
}
