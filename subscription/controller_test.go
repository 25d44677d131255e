package subscription

import (
	"testing"
	"time"

	"marketpulse/config"
)

func testCfg() config.VenueConfig {
	return config.VenueConfig{
		MoverWindowMS:        10 * 60 * 1000,
		MaxAssetsPerMarket:   4,
		DominantOutcomeTTLMS: 5 * 60 * 1000,
	}
}

func TestDominantOutcomePicksHighestVolume(t *testing.T) {
	c := New(testCfg(), nil)
	now := time.Now()
	c.RecordTrade("m1", "Yes", 0.5, 100, now)
	c.RecordTrade("m1", "No", 0.5, 10, now)

	label, ok := c.DominantOutcome("m1")
	if !ok || label != "Yes" {
		t.Fatalf("DominantOutcome = (%q, %v), want (Yes, true)", label, ok)
	}
}

func TestDominantOutcomeStaleReturnsFalse(t *testing.T) {
	c := New(testCfg(), nil)
	if _, ok := c.DominantOutcome("unknown-market"); ok {
		t.Fatal("expected ok=false for a market with no recorded activity")
	}
}

func TestTopMoversAlwaysKeepsYes(t *testing.T) {
	c := New(testCfg(), nil)
	now := time.Now()
	c.RecordTrade("m1", "Yes", 0.40, 1, now.Add(-time.Minute))
	c.RecordTrade("m1", "Yes", 0.40, 1, now)
	c.RecordTrade("m1", "No", 0.10, 1000, now.Add(-time.Minute))
	c.RecordTrade("m1", "No", 0.90, 1000, now)

	movers := c.TopMovers("m1")
	found := false
	for _, m := range movers {
		if m == "Yes" {
			found = true
		}
	}
	if !found {
		t.Fatalf("TopMovers() = %v, want it to include Yes", movers)
	}
}

func TestShardPartitionsIntoBoundedGroups(t *testing.T) {
	assets := make([]string, 250)
	for i := range assets {
		assets[i] = "a"
	}
	shards := Shard(assets, 100)
	if len(shards) != 3 {
		t.Fatalf("len(shards) = %d, want 3", len(shards))
	}
	if len(shards[0]) != 100 || len(shards[2]) != 50 {
		t.Fatalf("unexpected shard sizes: %v", []int{len(shards[0]), len(shards[1]), len(shards[2])})
	}
}

func TestScheduleReconnectDebounces(t *testing.T) {
	c := New(testCfg(), nil)
	calls := 0
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		c.ScheduleReconnect(func() {
			calls++
			close(done)
		})
	}

	select {
	case <-done:
	case <-time.After(7 * time.Second):
		t.Fatal("reconnect callback never fired")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 (debounced)", calls)
	}
}
