package event

import (
	"testing"
	"time"

	"marketpulse/config"
)

func testMovementConfig() config.MovementConfig {
	return config.MovementConfig{
		EventMinChildMarkets: 2,
		Windows: map[string]config.WindowThresholds{
			"event": {DurationMS: 60 * 60 * 1000, PriceThreshold: 0.09, ThinThreshold: 0.20, MinAbsMove: 0.03, VolumeThreshold: 2.0, IDBucketDivisor: 30 * 60 * 1000, SettleDelayMS: 2 * 60 * 1000},
		},
	}
}

func nowStub() time.Time { return time.Unix(1700000000, 0) }

func TestWeightedPriceRangeWeightsByVolume(t *testing.T) {
	children := []childStats{
		{market: "a", first: 0.2, last: 0.3, min: 0.2, max: 0.3, volume: 90},
		{market: "b", first: 0.8, last: 0.9, min: 0.8, max: 0.9, volume: 10},
	}
	first, last, min, max := weightedPriceRange(children)
	if first > 0.35 {
		t.Fatalf("weighted first = %v, want close to the heavier child's 0.2", first)
	}
	if last > 0.45 {
		t.Fatalf("weighted last = %v, want close to the heavier child's 0.3", last)
	}
	if min != 0.2 || max != 0.9 {
		t.Fatalf("min/max = %v/%v, want 0.2/0.9 (union of child extents)", min, max)
	}
}

func TestRegistryTracksChildMarketsPerEvent(t *testing.T) {
	r := NewRegistry()
	r.Record("will-it-rain", "market-1")
	r.Record("will-it-rain", "market-2")
	r.Record("other-event", "market-3")

	children := r.Children("will-it-rain")
	if len(children) != 2 {
		t.Fatalf("Children(will-it-rain) = %v, want 2 entries", children)
	}
	if len(r.Children("other-event")) != 1 {
		t.Fatal("Children(other-event) should have exactly 1 market")
	}
	if len(r.Children("unknown")) != 0 {
		t.Fatal("Children(unknown) should be empty, not nil-panic")
	}
}

func TestDetectorRequiresMinimumChildMarketsBeforeScanning(t *testing.T) {
	d := New(testMovementConfig(), nil, NewRegistry())
	// Only one child market recorded; should return before ever touching
	// the (nil) store, since nil.Fetch would panic.
	d.OnTrade(nil, "one-child-event", "market-1", "YES", nowStub())
}
