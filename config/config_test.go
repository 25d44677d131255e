package config

import (
	"os"
	"testing"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	if cfg.Buffer.TradeBufferMax != 200 {
		t.Errorf("TradeBufferMax = %d, want 200", cfg.Buffer.TradeBufferMax)
	}
	if cfg.Buffer.TradeBufferFlushMS != 1000 {
		t.Errorf("TradeBufferFlushMS = %d, want 1000", cfg.Buffer.TradeBufferFlushMS)
	}
	if cfg.Signal.MinConfidence != 0.25 {
		t.Errorf("MinConfidence = %v, want 0.25", cfg.Signal.MinConfidence)
	}
	if len(cfg.Movement.Windows) != 5 {
		t.Errorf("expected 5 window thresholds, got %d", len(cfg.Movement.Windows))
	}
}

func TestLoadFromEnvOverride(t *testing.T) {
	os.Setenv("TRADE_BUFFER_MAX", "500")
	defer os.Unsetenv("TRADE_BUFFER_MAX")

	cfg := LoadFromEnv()
	if cfg.Buffer.TradeBufferMax != 500 {
		t.Errorf("TradeBufferMax = %d, want 500", cfg.Buffer.TradeBufferMax)
	}
}

func TestGetEnvList(t *testing.T) {
	os.Setenv("POLYMARKET_EVENT_SLUGS", "foo, bar ,baz")
	defer os.Unsetenv("POLYMARKET_EVENT_SLUGS")

	cfg := LoadFromEnv()
	want := []string{"foo", "bar", "baz"}
	if len(cfg.Venue.PolymarketEventSlugs) != len(want) {
		t.Fatalf("got %v, want %v", cfg.Venue.PolymarketEventSlugs, want)
	}
	for i, s := range want {
		if cfg.Venue.PolymarketEventSlugs[i] != s {
			t.Errorf("slug[%d] = %q, want %q", i, cfg.Venue.PolymarketEventSlugs[i], s)
		}
	}
}

func TestWindowDurationUnknownFallsBackTo5m(t *testing.T) {
	cfg := LoadFromEnv()
	if cfg.Movement.WindowDuration("bogus") != cfg.Movement.WindowDuration("5m") {
		t.Error("expected unknown window type to fall back to 5m duration")
	}
}
