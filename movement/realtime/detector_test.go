package realtime

import (
	"testing"
	"time"

	"marketpulse/config"
	"marketpulse/normalize"
)

func testRT() config.RealtimeTuning {
	return config.RealtimeTuning{
		EMAFastSec: 60, EMASlowSec: 300, MaxSpreadPct: 0.30, MinTopSize: 5,
		PersistTicks: 2, PersistMS: 2000, EventCooldownMS: 60_000,
		EMAGapPct: 0.01, EMAMinPct: 0.01, EMAConfirmTicks: 2, EMADirCooldownMS: 120_000,
		TradeConfirmMS: 60_000, BreakoutPct: 0.03,
	}
}

func mkTick(asset string, mid float64, ts time.Time) normalize.Tick {
	bidSize, askSize := 10.0, 10.0
	return normalize.Tick{Asset: asset, Mid: &mid, BestBidSize: &bidSize, BestAskSize: &askSize, Timestamp: ts}
}

func TestBreakoutUpFiresAfterStabilityAndTradeConfirm(t *testing.T) {
	var events []Event
	d := New(100, 0.001, testRT(), func(e Event) { events = append(events, e) })

	base := time.Now()
	d.RecordTrade("a1", base)

	for i := 0; i < 5; i++ {
		d.OnTick(mkTick("a1", 0.50, base.Add(time.Duration(i)*200*time.Millisecond)), "m1")
	}

	d.OnTick(mkTick("a1", 0.60, base.Add(1200*time.Millisecond)), "m1")
	d.OnTick(mkTick("a1", 0.60, base.Add(1400*time.Millisecond)), "m1")

	found := false
	for _, e := range events {
		if e.Kind == BreakoutUp {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a breakout_up event, got %+v", events)
	}
}

func TestOnTickRejectsWideSpread(t *testing.T) {
	var events []Event
	d := New(100, 0.001, testRT(), func(e Event) { events = append(events, e) })

	mid := 0.5
	spreadPct := 0.5
	tick := normalize.Tick{Asset: "a1", Mid: &mid, SpreadPct: &spreadPct, Timestamp: time.Now()}
	d.OnTick(tick, "m1")

	if len(events) != 0 {
		t.Fatalf("expected no events for a rejected wide-spread tick, got %+v", events)
	}
}

func TestEvictIdleRemovesStaleAssets(t *testing.T) {
	d := New(100, 0.001, testRT(), func(Event) {})
	now := time.Now()
	d.OnTick(mkTick("a1", 0.5, now.Add(-time.Hour)), "m1")

	evicted := d.EvictIdle(now, 30*time.Minute)
	if evicted != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", evicted)
	}
}
