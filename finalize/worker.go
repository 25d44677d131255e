// Package finalize implements the Finalize Worker (§4.9): a poll loop
// that settles OPEN movements once their window has closed (or, for a
// quiet window, early), recomputes their final metrics, and hands them
// to the Signal Scorer.
package finalize

import (
	"context"
	"log"
	"math"
	"time"

	"marketpulse/config"
	"marketpulse/movement"
	"marketpulse/storegateway"
)

// Scorer is invoked once a movement's settled metrics are written. The
// finalize worker never blocks on scoring failures -- per §4.9 step 5,
// the movement is still marked FINAL even if scoring errors.
type Scorer interface {
	Score(ctx context.Context, m storegateway.Movement) error
}

// earlyMinAge is the per-window minimum age (§4.9b) before an OPEN
// movement not yet due is considered for early finalization.
var earlyMinAge = map[string]time.Duration{
	"5m": 2 * time.Minute, "event": 2 * time.Minute,
	"15m": 5 * time.Minute,
	"1h":  15 * time.Minute,
	"4h":  60 * time.Minute,
}

const tickCap = 5000

// Worker polls for due movements and settles them.
type Worker struct {
	cfg   config.FinalizeConfig
	store *storegateway.Store
	scorer Scorer
	done  chan struct{}
}

func New(cfg config.FinalizeConfig, store *storegateway.Store, scorer Scorer) *Worker {
	return &Worker{cfg: cfg, store: store, scorer: scorer, done: make(chan struct{})}
}

// Start runs the poll loop until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	log.Println("🔄 Finalize worker started")
	interval := time.Duration(w.cfg.PollMS) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			log.Println("🔄 Finalize worker stopped")
			return
		case <-w.done:
			log.Println("🔄 Finalize worker stopped")
			return
		}
	}
}

func (w *Worker) Stop() { close(w.done) }

func (w *Worker) tick(ctx context.Context) {
	now := time.Now()

	var due []storegateway.Movement
	batchSize := w.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	if err := w.store.Fetch(ctx, &due, "status = ? AND finalize_at <= ?",
		[]interface{}{"OPEN", now}, "finalize_at asc", batchSize); err != nil {
		log.Printf("⚠️  finalize: select due failed: %v", err)
	} else {
		for _, m := range due {
			w.finalizeOne(ctx, m, now)
		}
	}

	w.earlyFinalize(ctx, now)
}

// earlyFinalize implements §4.9b: an OPEN movement not yet due gets
// settled now if its window has been open long enough and has gone
// quiet over its last 2 minutes: no ticks, or at least 3 ticks with a
// range under 1% (one or two ticks do not count as quiet).
func (w *Worker) earlyFinalize(ctx context.Context, now time.Time) {
	var openRows []storegateway.Movement
	if err := w.store.Fetch(ctx, &openRows, "status = ? AND finalize_at > ?",
		[]interface{}{"OPEN", now}, "window_start asc", 0); err != nil {
		log.Printf("⚠️  finalize: select open failed: %v", err)
		return
	}

	for _, m := range openRows {
		minAge, ok := earlyMinAge[movement.LegacyWindowType(m.WindowType)]
		if !ok {
			minAge = earlyMinAge["5m"]
		}
		if now.Sub(m.WindowStart) < minAge {
			continue
		}

		var recent []storegateway.MidTick
		since := now.Add(-2 * time.Minute)
		if err := w.store.Fetch(ctx, &recent, "market = ? AND outcome = ? AND timestamp >= ?",
			[]interface{}{m.Market, m.Outcome, since}, "timestamp asc", 0); err != nil {
			continue
		}

		quiet := len(recent) == 0
		if !quiet && len(recent) >= 3 {
			_, _, lo, hi := priceRange(nil, recent)
			rangePct := 0.0
			if lo != 0 {
				rangePct = (hi - lo) / lo
			}
			quiet = rangePct < 0.01
		} else if len(recent) > 0 && len(recent) < 3 {
			quiet = false
		}

		if quiet {
			w.finalizeOne(ctx, m, now)
		}
	}
}

func (w *Worker) finalizeOne(ctx context.Context, m storegateway.Movement, now time.Time) {
	var trades []storegateway.Trade
	if err := w.store.Fetch(ctx, &trades, "market = ? AND outcome_label = ? AND timestamp >= ? AND timestamp <= ?",
		[]interface{}{m.Market, m.Outcome, m.WindowStart, now}, "timestamp asc", 0); err != nil {
		log.Printf("⚠️  finalize: fetch trades failed for %s: %v", m.ID, err)
	}

	var ticks []storegateway.MidTick
	if err := w.store.Fetch(ctx, &ticks, "market = ? AND outcome = ? AND timestamp >= ? AND timestamp <= ?",
		[]interface{}{m.Market, m.Outcome, m.WindowStart, now}, "timestamp desc", tickCap); err != nil {
		log.Printf("⚠️  finalize: fetch ticks failed for %s: %v", m.ID, err)
	}

	first, last, lo, hi := priceRange(trades, ticks)
	if first == 0 {
		first = m.FirstPrice
	}
	drift := 0.0
	if first != 0 {
		drift = (last - first) / first
	}
	rangePct := 0.0
	if lo != 0 {
		rangePct = (hi - lo) / lo
	}
	volume := tradeVolume(trades)
	windowMinutes := now.Sub(m.WindowStart).Minutes()
	velocity := 0.0
	if windowMinutes > 0 {
		velocity = math.Abs(drift) / math.Sqrt(windowMinutes)
	}
	fields := map[string]interface{}{
		"last_price":   last,
		"min_price":    lo,
		"max_price":    hi,
		"pct_change":   drift,
		"range_pct":    rangePct,
		"volume":       volume,
		"velocity":     velocity,
		"trades_count": len(trades),
		"price_levels": uniquePriceLevels(trades, ticks),
		"status":       "FINAL",
	}

	if err := w.store.Patch(ctx, &storegateway.Movement{}, "id = ?", []interface{}{m.ID}, fields); err != nil {
		log.Printf("⚠️  finalize: patch %s failed: %v", m.ID, err)
		return
	}

	m.LastPrice, m.MinPrice, m.MaxPrice = last, lo, hi
	m.PctChange, m.RangePct, m.Volume = drift, rangePct, volume
	m.Velocity = velocity
	m.TradesCount = len(trades)
	m.PriceLevels = uniquePriceLevels(trades, ticks)
	m.Status = "FINAL"

	log.Printf("✅ finalized movement %s drift=%.3f range=%.3f volume=%.2f", m.ID, drift, rangePct, volume)

	if w.scorer != nil {
		if err := w.scorer.Score(ctx, m); err != nil {
			log.Printf("⚠️  finalize: scoring %s failed (movement stays FINAL): %v", m.ID, err)
		}
	}
}

func priceRange(trades []storegateway.Trade, ticks []storegateway.MidTick) (first, last, min, max float64) {
	has := false
	consider := func(p float64) {
		if !has {
			first, min, max = p, p, p
			has = true
		}
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
		last = p
	}
	if len(ticks) > 0 {
		for i := len(ticks) - 1; i >= 0; i-- {
			if ticks[i].Mid == nil {
				continue
			}
			consider(*ticks[i].Mid)
		}
	}
	if !has {
		for _, t := range trades {
			consider(t.Price)
		}
	}
	return
}

func tradeVolume(trades []storegateway.Trade) float64 {
	total := 0.0
	for _, t := range trades {
		total += t.Size
	}
	return total
}

func uniquePriceLevels(trades []storegateway.Trade, ticks []storegateway.MidTick) int {
	levels := make(map[int64]struct{})
	for _, t := range ticks {
		if t.Mid == nil {
			continue
		}
		levels[int64(math.Round(*t.Mid/1e-4))] = struct{}{}
	}
	if len(levels) == 0 {
		for _, t := range trades {
			levels[int64(math.Round(t.Price/1e-4))] = struct{}{}
		}
	}
	return len(levels)
}
