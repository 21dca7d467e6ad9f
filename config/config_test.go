package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.PageLimit != 200 || cfg.MaxPagesPerGift != 200 || cfg.MaxConcurrency != 3 {
		t.Errorf("scan defaults = %d/%d/%d", cfg.PageLimit, cfg.MaxPagesPerGift, cfg.MaxConcurrency)
	}
	if cfg.RetryBaseDelay != 1500*time.Millisecond || cfg.RateLimitPadding != time.Second {
		t.Errorf("retry defaults = %v/%v", cfg.RetryBaseDelay, cfg.RateLimitPadding)
	}
	if cfg.CheckpointRows != 50 || cfg.CheckpointInterval != 30*time.Second {
		t.Errorf("checkpoint defaults = %d/%v", cfg.CheckpointRows, cfg.CheckpointInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SCAN_MODE", "verify")
	t.Setenv("MAX_CONCURRENCY", "7")
	t.Setenv("CHECKPOINT_INTERVAL", "2m")
	t.Setenv("RETRY_BASE_DELAY", "250")
	t.Setenv("POSTGRES_ENABLED", "true")
	t.Setenv("COLLECTIONS", "Desk Calendar, Kissed Frog,,")
	t.Setenv("PAGE_LIMIT", "lots")

	cfg := FromEnv()
	if cfg.ScanMode != "verify" || cfg.MaxConcurrency != 7 || !cfg.PostgresEnabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.CheckpointInterval != 2*time.Minute || cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("durations = %v/%v", cfg.CheckpointInterval, cfg.RetryBaseDelay)
	}
	if !reflect.DeepEqual(cfg.Collections, []string{"Desk Calendar", "Kissed Frog"}) {
		t.Errorf("collections = %q", cfg.Collections)
	}
	if cfg.PageLimit != 200 {
		t.Errorf("unparseable int should fall back, got %d", cfg.PageLimit)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "scan_mode: verify\ncheckpoint_interval: 45s\ncollections:\n  - Plush Pepe\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := FromEnv()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ScanMode != "verify" || cfg.CheckpointInterval != 45*time.Second {
		t.Errorf("overlay not applied: %+v", cfg)
	}
	if len(cfg.Collections) != 1 || cfg.Collections[0] != "Plush Pepe" {
		t.Errorf("collections = %q", cfg.Collections)
	}
	if cfg.PageLimit != 200 {
		t.Errorf("keys absent from the file must keep env values, got %d", cfg.PageLimit)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := FromEnv()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.ScanMode = "fast" }, "scan mode"},
		{"bad transport", func(c *Config) { c.ThermosTransport = "carrier pigeon" }, "transport"},
		{"zero pages", func(c *Config) { c.MaxPagesPerGift = 0 }, "MAX_PAGES_PER_GIFT"},
		{"negative rate", func(c *Config) { c.RateLimitMs = -1 }, "RATE_LIMIT_MS"},
		{"no market", func(c *Config) { c.MarketBaseURL = "" }, "MARKET_BASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v; want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{PostgresHost: "db", PostgresPort: "5432", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "d", PostgresSSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=d sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q; want %q", got, want)
	}
}
