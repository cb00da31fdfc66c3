package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if !cfg.SimulationMode {
		t.Error("expected simulation mode on by default")
	}
	if cfg.MaxRiskPerTrade != 0.90 {
		t.Errorf("MaxRiskPerTrade = %f, want 0.90", cfg.MaxRiskPerTrade)
	}
	if cfg.BookFreshness != 500*time.Millisecond {
		t.Errorf("BookFreshness = %v, want 500ms", cfg.BookFreshness)
	}
	if cfg.StorageMode != "sqlite" {
		t.Errorf("StorageMode = %q, want sqlite", cfg.StorageMode)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:        "8080",
			SimulationMode:  true,
			MaxRiskPerTrade: 0.90,
			MaxDailyLoss:    0.20,
			MaxNetExposure:  0.50,
			MinProfit:       0.01,
			BookFreshness:   500 * time.Millisecond,
			StorageMode:     "sqlite",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "empty port", mutate: func(c *Config) { c.HTTPPort = "" }, wantErr: true},
		{name: "risk fraction above one", mutate: func(c *Config) { c.MaxRiskPerTrade = 1.5 }, wantErr: true},
		{name: "zero daily loss", mutate: func(c *Config) { c.MaxDailyLoss = 0 }, wantErr: true},
		{name: "negative min profit", mutate: func(c *Config) { c.MinProfit = -0.01 }, wantErr: true},
		{name: "unknown storage mode", mutate: func(c *Config) { c.StorageMode = "redis" }, wantErr: true},
		{name: "live without credentials", mutate: func(c *Config) { c.SimulationMode = false }, wantErr: true},
		{
			name: "live with credentials",
			mutate: func(c *Config) {
				c.SimulationMode = false
				c.KalshiKeyID = "key-id"
				c.KalshiKeyPEM = "pem"
				c.PolyAPIKey = "k"
				c.PolySecret = "s"
				c.PolyPassphrase = "p"
				c.PolyPrivateKey = "0xabc"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDurationOrDefault(t *testing.T) {
	t.Setenv("TEST_COOLDOWN_SECONDS", "45")
	if got := getDurationOrDefault("TEST_COOLDOWN_SECONDS", time.Second); got != 45*time.Second {
		t.Errorf("bare seconds = %v, want 45s", got)
	}

	t.Setenv("TEST_FRESHNESS_MS", "250")
	if got := getDurationOrDefault("TEST_FRESHNESS_MS", time.Second); got != 250*time.Millisecond {
		t.Errorf("bare millis = %v, want 250ms", got)
	}

	t.Setenv("TEST_GO_DURATION", "1m30s")
	if got := getDurationOrDefault("TEST_GO_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("duration string = %v, want 1m30s", got)
	}

	if got := getDurationOrDefault("TEST_UNSET_DURATION", 7*time.Second); got != 7*time.Second {
		t.Errorf("unset = %v, want default 7s", got)
	}
}
