package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantdesk/portfolio-engine/internal/config"
	"github.com/quantdesk/portfolio-engine/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Workers.PoolSize != 4 {
		t.Errorf("Expected default pool size 4, got %d", cfg.Workers.PoolSize)
	}
	if cfg.Workers.JobTimeout != 5*time.Minute {
		t.Errorf("Expected default job timeout 5m, got %s", cfg.Workers.JobTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default level info, got %s", cfg.Logging.Level)
	}
	if cfg.Engine.TradeConcentrationWarn != 25 {
		t.Errorf("Expected default concentration warn 25, got %f", cfg.Engine.TradeConcentrationWarn)
	}

	costs := cfg.Costs.CostModel()
	if err := costs.Validate(); err != nil {
		t.Errorf("Default cost model should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
logging:
  level: debug
costs:
  commissionRate: 0.002
workers:
  jobTimeout: 2m
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Costs.CommissionRate != 0.002 {
		t.Errorf("Expected commission rate 0.002, got %f", cfg.Costs.CommissionRate)
	}
	if cfg.Workers.JobTimeout != 2*time.Minute {
		t.Errorf("Expected job timeout 2m, got %s", cfg.Workers.JobTimeout)
	}
	// Unset keys keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host, got %s", cfg.Server.Host)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("QUANTDESK_SERVER_PORT", "7070")
	t.Setenv("QUANTDESK_LOGGING_LEVEL", "warn")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected env level warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"bad port":  "server:\n  port: 0\n",
		"bad level": "logging:\n  level: chatty\n",
		"bad pool":  "workers:\n  poolSize: 0\n",
		"bad rate":  "costs:\n  commissionRate: 2.0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := config.Load(path); !errors.Is(err, types.ErrInvalidConfig) {
				t.Fatalf("Expected invalid config, got %v", err)
			}
		})
	}
}
