package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Economy.StartingBalance != 350 || cfg.Economy.IncomeAmount != 50 {
		t.Errorf("economy defaults = %d/%d, want 350/50",
			cfg.Economy.StartingBalance, cfg.Economy.IncomeAmount)
	}
	if cfg.Economy.IncomeInterval.Duration != 24*time.Hour {
		t.Errorf("income interval = %s, want 24h", cfg.Economy.IncomeInterval)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[server]
port = 9090

[economy]
starting_balance = 1000
income_interval = "1h"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Economy.StartingBalance != 1000 {
		t.Errorf("starting_balance = %d, want 1000", cfg.Economy.StartingBalance)
	}
	if cfg.Economy.IncomeInterval.Duration != time.Hour {
		t.Errorf("income_interval = %s, want 1h", cfg.Economy.IncomeInterval)
	}
	// Untouched fields keep their defaults.
	if cfg.Economy.IncomeAmount != 50 {
		t.Errorf("income_amount = %d, want default 50", cfg.Economy.IncomeAmount)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BETLEDGER_SERVER_PORT", "7001")
	t.Setenv("BETLEDGER_ECONOMY_INCOME_AMOUNT", "75")
	t.Setenv("BETLEDGER_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("port = %d, want 7001", cfg.Server.Port)
	}
	if cfg.Economy.IncomeAmount != 75 {
		t.Errorf("income_amount = %d, want 75", cfg.Economy.IncomeAmount)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v, want [k1:9092 k2:9092]", cfg.Kafka.Brokers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	cfg.Economy.StartingBalance = -1
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"port", "starting_balance", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}
