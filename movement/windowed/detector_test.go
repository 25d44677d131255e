package windowed

import (
	"testing"
	"time"

	"marketpulse/storegateway"
)

func TestPriceRangePrefersTicksOverTrades(t *testing.T) {
	now := time.Now()
	mid1, mid2 := 0.4, 0.6
	ticks := []storegateway.MidTick{
		{Mid: &mid1, Timestamp: now},
		{Mid: &mid2, Timestamp: now.Add(time.Minute)},
	}
	trades := []storegateway.Trade{{Price: 0.99, Timestamp: now}}

	first, last, min, max := priceRange(trades, ticks)
	if first != 0.4 || last != 0.6 || min != 0.4 || max != 0.6 {
		t.Fatalf("priceRange = (%v,%v,%v,%v), want ticks to win over trades", first, last, min, max)
	}
}

func TestPriceRangeFallsBackToTradesWhenNoTicks(t *testing.T) {
	now := time.Now()
	trades := []storegateway.Trade{
		{Price: 0.3, Timestamp: now},
		{Price: 0.5, Timestamp: now.Add(time.Minute)},
	}
	first, last, min, max := priceRange(trades, nil)
	if first != 0.3 || last != 0.5 || min != 0.3 || max != 0.5 {
		t.Fatalf("priceRange = (%v,%v,%v,%v), want trade-derived", first, last, min, max)
	}
}

func TestTradeVolumeSums(t *testing.T) {
	trades := []storegateway.Trade{{Size: 10}, {Size: 5}, {Size: 2.5}}
	if v := tradeVolume(trades); v != 17.5 {
		t.Fatalf("tradeVolume = %v, want 17.5", v)
	}
}

func TestMaxHourlyBucketVolumePicksBusiestHour(t *testing.T) {
	base := time.Unix(0, 0)
	trades := []storegateway.Trade{
		{Size: 10, Timestamp: base},
		{Size: 5, Timestamp: base.Add(30 * time.Minute)},
		{Size: 100, Timestamp: base.Add(2 * time.Hour)},
	}
	if v := maxHourlyBucketVolume(trades); v != 100 {
		t.Fatalf("maxHourlyBucketVolume = %v, want 100", v)
	}
}

func TestUniquePriceLevelsQuantizesMid(t *testing.T) {
	m1, m2, m3 := 0.5001, 0.5001, 0.6
	ticks := []storegateway.MidTick{{Mid: &m1}, {Mid: &m2}, {Mid: &m3}}
	if got := uniquePriceLevels(nil, ticks); got != 2 {
		t.Fatalf("uniquePriceLevels = %d, want 2", got)
	}
}

func TestRatioGuardsZeroBaseline(t *testing.T) {
	if ratio(10, 0) != 0 {
		t.Fatal("ratio with zero baseline should be 0, not a divide-by-zero panic")
	}
	if ratio(10, 5) != 2 {
		t.Fatalf("ratio(10,5) = %v, want 2", ratio(10, 5))
	}
}
