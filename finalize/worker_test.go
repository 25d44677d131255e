package finalize

import (
	"testing"
	"time"

	"marketpulse/storegateway"
)

func TestPriceRangePrefersTicksNewestFirst(t *testing.T) {
	now := time.Now()
	mid1, mid2 := 0.3, 0.5
	ticks := []storegateway.MidTick{
		{Mid: &mid2, Timestamp: now},
		{Mid: &mid1, Timestamp: now.Add(-time.Minute)},
	}
	first, last, min, max := priceRange(nil, ticks)
	if first != 0.3 || last != 0.5 {
		t.Fatalf("priceRange = first=%v last=%v, want first=0.3 last=0.5 (oldest-to-newest in the capped desc-ordered set)", first, last)
	}
	if min != 0.3 || max != 0.5 {
		t.Fatalf("min/max = %v/%v, want 0.3/0.5", min, max)
	}
}

func TestTradeVolumeSums(t *testing.T) {
	trades := []storegateway.Trade{{Size: 4}, {Size: 6}}
	if v := tradeVolume(trades); v != 10 {
		t.Fatalf("tradeVolume = %v, want 10", v)
	}
}

func TestUniquePriceLevelsFallsBackToTrades(t *testing.T) {
	trades := []storegateway.Trade{{Price: 0.2}, {Price: 0.2}, {Price: 0.4}}
	if got := uniquePriceLevels(trades, nil); got != 2 {
		t.Fatalf("uniquePriceLevels = %d, want 2", got)
	}
}
