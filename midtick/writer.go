// Package midtick implements the dedup-by-bucket tick writer (§4.5):
// a top-of-book snapshot is only persisted when the quote actually moved
// or the 2s bucket rolled, and the "latest" table is kept in lockstep.
package midtick

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"marketpulse/normalize"
	"marketpulse/storegateway"
)

const bucketWindow = 2 * time.Second

// last is what Writer remembers about the most recently accepted tick for
// a (market, asset, outcome) key, rounded to 3 decimals per §4.5.
type last struct {
	bid, ask, mid float64
	hasBid        bool
	hasAsk        bool
	hasMid        bool
	bucket        int64
}

// Writer owns the in-process dedup state for every instrument it sees.
type Writer struct {
	store *storegateway.Store

	mu   sync.Mutex
	seen map[string]last
}

func New(store *storegateway.Store) *Writer {
	return &Writer{store: store, seen: make(map[string]last)}
}

func key(market, asset, outcome string) string { return market + "|" + asset + "|" + outcome }

func round3(f float64) float64 { return math.Round(f*1000) / 1000 }

// Write accepts a normalized tick, applying the in-process dedup gate,
// then inserts into the append table (ignoring duplicate-key errors) and
// overwrites the "latest" row on the same key.
func (w *Writer) Write(ctx context.Context, t normalize.Tick) {
	k := key(t.Market, t.Asset, t.Outcome)
	bucket := t.Timestamp.UnixNano() / int64(bucketWindow)

	w.mu.Lock()
	prev, ok := w.seen[k]
	changed := !ok || bucketRolled(prev.bucket, bucket)
	if !changed {
		changed = valueChanged(prev.hasBid, prev.bid, t.BestBid) ||
			valueChanged(prev.hasAsk, prev.ask, t.BestAsk) ||
			valueChanged(prev.hasMid, prev.mid, t.Mid)
	}
	if changed {
		w.seen[k] = last{
			bid: derefRound(t.BestBid), hasBid: t.BestBid != nil,
			ask: derefRound(t.BestAsk), hasAsk: t.BestAsk != nil,
			mid: derefRound(t.Mid), hasMid: t.Mid != nil,
			bucket: bucket,
		}
	}
	w.mu.Unlock()

	if !changed {
		return
	}

	row := storegateway.MidTick{
		Market: t.Market, Asset: t.Asset, Timestamp: t.Timestamp, Outcome: t.Outcome,
		BestBid: t.BestBid, BestAsk: t.BestAsk, Mid: t.Mid, Spread: t.Spread, SpreadPct: t.SpreadPct,
		BestBidSize: t.BestBidSize, BestAskSize: t.BestAskSize,
	}
	if err := w.store.Insert(ctx, &row); err != nil && !storegateway.IsDuplicateKey(err) {
		log.Printf("⚠️  midtick: insert failed for %s/%s: %v", t.Market, t.Asset, err)
	}

	latest := storegateway.MarketMidLatest{
		Market: t.Market, Asset: t.Asset, Outcome: t.Outcome,
		BestBid: t.BestBid, BestAsk: t.BestAsk, Mid: t.Mid, Spread: t.Spread, SpreadPct: t.SpreadPct,
		Timestamp: t.Timestamp,
	}
	if err := w.store.Upsert(ctx, &latest, []string{"market", "asset"}, []string{
		"outcome", "best_bid", "best_ask", "mid", "spread", "spread_pct", "timestamp",
	}); err != nil {
		log.Printf("⚠️  midtick: latest upsert failed for %s/%s: %v", t.Market, t.Asset, err)
	}
}

func bucketRolled(prevBucket, bucket int64) bool { return bucket != prevBucket }

func valueChanged(had bool, prevVal float64, cur *float64) bool {
	if had != (cur != nil) {
		return true
	}
	if cur == nil {
		return false
	}
	return round3(*cur) != prevVal
}

func derefRound(f *float64) float64 {
	if f == nil {
		return 0
	}
	return round3(*f)
}
