// Package aggregate maintains the per-market running rollup (§4.3):
// trades merge into an in-memory delta, which is periodically merged into
// the persisted running aggregate via a load-merge-upsert cycle.
package aggregate

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"marketpulse/config"
	"marketpulse/normalize"
	"marketpulse/storegateway"
)

// delta is the not-yet-flushed accumulation for one market.
type delta struct {
	count               int64
	totalVolume         float64
	buyVolume           float64
	sellVolume          float64
	firstPrice          float64
	lastPrice           float64
	minPrice            float64
	maxPrice            float64
	firstSeen           time.Time
	lastSeen            time.Time
	hasFirstPrice       bool
}

func (d *delta) merge(t normalize.Trade) {
	d.count++
	d.totalVolume += t.Size
	if t.Side == normalize.Buy {
		d.buyVolume += t.Size
	} else {
		d.sellVolume += t.Size
	}

	if !d.hasFirstPrice {
		d.firstPrice = t.Price
		d.minPrice = t.Price
		d.maxPrice = t.Price
		d.firstSeen = t.Timestamp
		d.hasFirstPrice = true
	}
	if t.Price < d.minPrice {
		d.minPrice = t.Price
	}
	if t.Price > d.maxPrice {
		d.maxPrice = t.Price
	}
	// Tie-break: a trade at the same or later timestamp overwrites the
	// last price -- the later-merged entry always wins.
	if !t.Timestamp.Before(d.lastSeen) {
		d.lastPrice = t.Price
		d.lastSeen = t.Timestamp
	}
}

// Engine buffers per-market deltas and flushes them into the store.
type Engine struct {
	cfg   config.AggregateConfig
	store *storegateway.Store

	mu     sync.Mutex
	deltas map[string]*delta

	recentFlushSizes []int
	currentFlushMS   int

	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg config.AggregateConfig, store *storegateway.Store) *Engine {
	return &Engine{
		cfg:            cfg,
		store:          store,
		deltas:         make(map[string]*delta),
		currentFlushMS: cfg.FlushMS,
		done:           make(chan struct{}),
	}
}

// Submit merges a trade into its market's pending delta. If the delta
// has reached the size-based threshold it is flushed immediately.
func (e *Engine) Submit(t normalize.Trade) {
	e.mu.Lock()
	d, ok := e.deltas[t.Market]
	if !ok {
		d = &delta{}
		e.deltas[t.Market] = d
	}
	d.merge(t)
	shouldFlush := d.count >= int64(e.cfg.MaxTrades)
	e.mu.Unlock()

	if shouldFlush {
		e.flushMarket(t.Market)
	}
}

func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.flushLoop(ctx)
}

func (e *Engine) Stop() {
	close(e.done)
	e.wg.Wait()
}

func (e *Engine) flushLoop(ctx context.Context) {
	defer e.wg.Done()

	timer := time.NewTimer(time.Duration(e.currentFlushMS) * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-timer.C:
			n := e.flushAll()
			e.adaptInterval(n)
			timer.Reset(time.Duration(e.currentFlushMS) * time.Millisecond)
		}
	}
}

// adaptInterval speeds up the flush cadence when recent flushes carried a
// lot of trades, and slows down when they carried few, clamped within
// [MinFlushMS, MaxFlushMS].
func (e *Engine) adaptInterval(lastFlushTrades int) {
	e.recentFlushSizes = append(e.recentFlushSizes, lastFlushTrades)
	if len(e.recentFlushSizes) > 5 {
		e.recentFlushSizes = e.recentFlushSizes[len(e.recentFlushSizes)-5:]
	}

	avg := 0.0
	for _, n := range e.recentFlushSizes {
		avg += float64(n)
	}
	avg /= float64(len(e.recentFlushSizes))

	switch {
	case avg >= 25:
		e.currentFlushMS = e.currentFlushMS / 2
	case avg <= 3:
		e.currentFlushMS = e.currentFlushMS * 2
	}
	if e.currentFlushMS < e.cfg.MinFlushMS {
		e.currentFlushMS = e.cfg.MinFlushMS
	}
	if e.currentFlushMS > e.cfg.MaxFlushMS {
		e.currentFlushMS = e.cfg.MaxFlushMS
	}
}

// flushAll flushes every market with a pending delta and returns the
// total number of trades flushed (used to drive adaptInterval).
func (e *Engine) flushAll() int {
	e.mu.Lock()
	markets := make([]string, 0, len(e.deltas))
	for m := range e.deltas {
		markets = append(markets, m)
	}
	e.mu.Unlock()

	total := 0
	for _, m := range markets {
		total += e.flushMarket(m)
	}
	return total
}

// flushMarket pops the pending delta for market, merges it onto the
// persisted aggregate, and upserts. On failure the delta is merged back
// in (never lost) for the next attempt.
func (e *Engine) flushMarket(market string) int {
	e.mu.Lock()
	d, ok := e.deltas[market]
	if !ok || d.count == 0 {
		e.mu.Unlock()
		return 0
	}
	delete(e.deltas, market)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	var current storegateway.Aggregate
	err := e.store.DB().WithContext(ctx).Where("market = ?", market).First(&current).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		// A fetch error that isn't "no row yet" (timeout, connection
		// loss) must not be mistaken for a new market -- that would make
		// mergeAggregate overwrite the persisted running totals with just
		// this delta. Re-merge and retry on the next flush instead.
		log.Printf("⚠️  aggregate fetch failed for %s, re-merging delta: %v", market, err)
		e.mu.Lock()
		if existing, ok := e.deltas[market]; ok {
			mergeback(existing, d)
		} else {
			e.deltas[market] = d
		}
		e.mu.Unlock()
		return 0
	}
	exists := err == nil

	merged := mergeAggregate(current, exists, d)
	merged.Market = market

	if upsertErr := e.store.Upsert(ctx, &merged, []string{"market"}, []string{
		"trade_count", "total_volume", "buy_volume", "sell_volume", "avg_trade_size",
		"first_price", "last_price", "min_price", "max_price", "first_seen", "last_seen",
	}); upsertErr != nil {
		log.Printf("⚠️  aggregate flush failed for %s, re-merging delta: %v", market, upsertErr)
		e.mu.Lock()
		if existing, ok := e.deltas[market]; ok {
			mergeback(existing, d)
		} else {
			e.deltas[market] = d
		}
		e.mu.Unlock()
		return 0
	}

	return int(d.count)
}

// mergeAggregate computes the new running aggregate from the previous row
// (if any) and the pending delta, per §4.3 and the invariants in §8.
func mergeAggregate(current storegateway.Aggregate, exists bool, d *delta) storegateway.Aggregate {
	if !exists || current.Market == "" {
		avg := 0.0
		if d.count > 0 {
			avg = d.totalVolume / float64(d.count)
		}
		return storegateway.Aggregate{
			TradeCount:   d.count,
			TotalVolume:  d.totalVolume,
			BuyVolume:    d.buyVolume,
			SellVolume:   d.sellVolume,
			AvgTradeSize: avg,
			FirstPrice:   d.firstPrice,
			LastPrice:    d.lastPrice,
			MinPrice:     d.minPrice,
			MaxPrice:     d.maxPrice,
			FirstSeen:    d.firstSeen,
			LastSeen:     d.lastSeen,
		}
	}

	newCount := current.TradeCount + d.count
	newTotal := current.TotalVolume + d.totalVolume
	avg := 0.0
	if newCount > 0 {
		avg = newTotal / float64(newCount)
	}

	minPrice := current.MinPrice
	if d.minPrice < minPrice || current.TradeCount == 0 {
		minPrice = d.minPrice
	}
	maxPrice := current.MaxPrice
	if d.maxPrice > maxPrice || current.TradeCount == 0 {
		maxPrice = d.maxPrice
	}

	lastPrice := current.LastPrice
	lastSeen := current.LastSeen
	if !d.lastSeen.Before(lastSeen) {
		lastPrice = d.lastPrice
		lastSeen = d.lastSeen
	}

	firstSeen := current.FirstSeen
	if d.firstSeen.Before(firstSeen) || current.TradeCount == 0 {
		firstSeen = d.firstSeen
	}

	return storegateway.Aggregate{
		Market:       current.Market,
		TradeCount:   newCount,
		TotalVolume:  newTotal,
		BuyVolume:    current.BuyVolume + d.buyVolume,
		SellVolume:   current.SellVolume + d.sellVolume,
		AvgTradeSize: avg,
		FirstPrice:   current.FirstPrice,
		LastPrice:    lastPrice,
		MinPrice:     minPrice,
		MaxPrice:     maxPrice,
		FirstSeen:    firstSeen,
		LastSeen:     lastSeen,
	}
}

func mergeback(existing, failed *delta) {
	existing.count += failed.count
	existing.totalVolume += failed.totalVolume
	existing.buyVolume += failed.buyVolume
	existing.sellVolume += failed.sellVolume
	if !existing.hasFirstPrice && failed.hasFirstPrice {
		existing.firstPrice = failed.firstPrice
		existing.minPrice = failed.minPrice
		existing.maxPrice = failed.maxPrice
		existing.firstSeen = failed.firstSeen
		existing.hasFirstPrice = true
	}
	if failed.minPrice < existing.minPrice {
		existing.minPrice = failed.minPrice
	}
	if failed.maxPrice > existing.maxPrice {
		existing.maxPrice = failed.maxPrice
	}
	if !failed.lastSeen.Before(existing.lastSeen) {
		existing.lastPrice = failed.lastPrice
		existing.lastSeen = failed.lastSeen
	}
}
