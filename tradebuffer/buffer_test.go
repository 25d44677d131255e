package tradebuffer

import (
	"testing"
	"time"

	"marketpulse/config"
	"marketpulse/normalize"
)

func TestDedupeLRUDropsWithinTTL(t *testing.T) {
	d := newDedupeLRU(10 * time.Minute)
	now := time.Now()

	if d.CheckAndMark("t1", now) {
		t.Fatal("first submission should not be a duplicate")
	}
	if !d.CheckAndMark("t1", now.Add(time.Minute)) {
		t.Fatal("resubmission within TTL should be a duplicate")
	}
	if d.CheckAndMark("t1", now.Add(11*time.Minute)) {
		t.Fatal("resubmission after TTL should not be a duplicate")
	}
}

func TestDedupeLRUSweepEvictsExpired(t *testing.T) {
	d := newDedupeLRU(time.Minute)
	now := time.Now()
	d.CheckAndMark("old", now)
	d.CheckAndMark("fresh", now.Add(30*time.Second))

	evicted := d.Sweep(now.Add(2 * time.Minute))
	if evicted != 2 {
		t.Fatalf("evicted = %d, want 2 (both past TTL by sweep time)", evicted)
	}
	if d.Len() != 0 {
		t.Fatalf("Len = %d, want 0", d.Len())
	}
}

func TestTrimOlderThan(t *testing.T) {
	now := time.Now()
	ts := []time.Time{now.Add(-2 * time.Minute), now.Add(-30 * time.Second), now}
	got := trimOlderThan(ts, now, time.Minute)
	if len(got) != 2 {
		t.Fatalf("trimOlderThan kept %d entries, want 2", len(got))
	}
}

func TestSubmitDropsDuplicateBeforeEnqueue(t *testing.T) {
	cfg := config.BufferConfig{TradeBufferMax: 10, TradeBufferFlushMS: 1000, TradeDedupeTTLMS: 10 * 60 * 1000, SpoolPath: t.TempDir() + "/s.jsonl"}
	b := New(cfg, nil)

	trade := normalize.Trade{ID: "dup-1", Market: "m1", Timestamp: time.Now()}
	b.Submit(trade)
	b.Submit(trade)

	if len(b.ingestChan) != 1 {
		t.Fatalf("ingestChan length = %d, want 1 (duplicate dropped)", len(b.ingestChan))
	}
}

func TestCircuitTripsAfterThreshold(t *testing.T) {
	cfg := config.BufferConfig{InsertFailWindowMS: 60_000, InsertFailThreshold: 3, SpoolPath: t.TempDir() + "/s.jsonl"}
	b := New(cfg, nil)

	b.recordFailure()
	b.recordFailure()
	if b.isCircuitTripped() {
		t.Fatal("circuit should not trip before threshold")
	}
	b.recordFailure()
	if !b.isCircuitTripped() {
		t.Fatal("circuit should trip at threshold")
	}

	b.recordSuccess()
	b.untrip()
	if b.isCircuitTripped() {
		t.Fatal("untrip should clear the circuit")
	}
}
