package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Interval != "@every 30s" {
		t.Fatalf("monitor.interval=%q want=@every 30s", cfg.Monitor.Interval)
	}
	if cfg.Settlement.BacklogLookback != 72*time.Hour {
		t.Fatalf("settlement.backlog_lookback=%v want=72h", cfg.Settlement.BacklogLookback)
	}
	if cfg.RateLimit.LivePrices.MaxRequests != 30 || cfg.RateLimit.LivePrices.Window != time.Minute {
		t.Fatalf("live_prices=%+v", cfg.RateLimit.LivePrices)
	}
	if cfg.PriceFeed.RequestsPerMin != 8 {
		t.Fatalf("price_feed.requests_per_min=%d want=8", cfg.PriceFeed.RequestsPerMin)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("monitor:\n  interval: \"@every 10s\"\n  fetch_limit: 2\nnotify:\n  queue_size: 16\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Interval != "@every 10s" || cfg.Monitor.FetchLimit != 2 {
		t.Fatalf("monitor=%+v", cfg.Monitor)
	}
	if cfg.Notify.QueueSize != 16 {
		t.Fatalf("notify.queue_size=%d want=16", cfg.Notify.QueueSize)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log.level=%q want=info", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
