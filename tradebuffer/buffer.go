// Package tradebuffer implements the size/time-flushed batch writer for
// trades (§4.2): submit returns immediately, trades accumulate until
// either N or T hits, the batch is written, and repeated failures spill
// to an on-disk spool that a separate loop drains.
package tradebuffer

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"marketpulse/config"
	"marketpulse/normalize"
	"marketpulse/spool"
	"marketpulse/storegateway"
)

// Buffer is the trade ingestion front door. Submit is safe to call from
// many goroutines; the flush itself is serialized.
type Buffer struct {
	cfg   config.BufferConfig
	store *storegateway.Store
	spool *spool.Spool
	dedup *dedupeLRU

	ingestChan chan storegateway.Trade
	done       chan struct{}
	wg         sync.WaitGroup

	mu             sync.Mutex
	failTimestamps []time.Time
	circuitTripped bool
}

// New constructs a Buffer. Start must be called before Submit is used.
func New(cfg config.BufferConfig, store *storegateway.Store) *Buffer {
	return &Buffer{
		cfg:        cfg,
		store:      store,
		spool:      spool.New(cfg.SpoolPath),
		dedup:      newDedupeLRU(time.Duration(cfg.TradeDedupeTTLMS) * time.Millisecond),
		ingestChan: make(chan storegateway.Trade, cfg.TradeBufferMax*4),
		done:       make(chan struct{}),
	}
}

// Start launches the flush worker, the dedupe sweeper, and the spool
// replay loop.
func (b *Buffer) Start(ctx context.Context) {
	b.wg.Add(3)
	go b.flushWorker()
	go b.dedupeSweeper(ctx)
	go b.replayLoop(ctx)
}

// Stop drains the remaining batch and stops every worker goroutine.
func (b *Buffer) Stop() {
	close(b.done)
	b.wg.Wait()
}

// Submit dedupes an already normalized trade, converts it to a store row,
// and enqueues it. It never blocks on
// I/O: a full channel drops the trade with a log line rather than
// stalling the caller (the channel is sized at 4x the flush batch, so
// this only triggers under sustained backpressure).
func (b *Buffer) Submit(t normalize.Trade) {
	if b.dedup.CheckAndMark(t.ID, time.Now()) {
		return
	}

	row := storegateway.Trade{
		ID:           t.ID,
		Market:       t.Market,
		OutcomeLabel: t.OutcomeLabel,
		OutcomeIndex: t.OutcomeIndex,
		Price:        t.Price,
		Size:         t.Size,
		Side:         string(t.Side),
		Timestamp:    t.Timestamp,
		RawPayload:   t.RawPayload,
	}

	select {
	case b.ingestChan <- row:
	default:
		log.Printf("⚠️  trade buffer full, dropping trade %s (circuit tripped=%v)", t.ID, b.isCircuitTripped())
	}
}

func (b *Buffer) flushWorker() {
	defer b.wg.Done()

	var batch []storegateway.Trade
	ticker := time.NewTicker(time.Duration(b.cfg.TradeBufferFlushMS) * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.flush(batch)
		batch = nil
	}

	for {
		select {
		case row := <-b.ingestChan:
			batch = append(batch, row)
			if len(batch) >= b.cfg.TradeBufferMax {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-b.done:
			flush()
			return
		}
	}
}

// flush writes a batch to the store, or to the spool when the circuit is
// tripped or the store write itself fails -- a batch is never dropped.
func (b *Buffer) flush(batch []storegateway.Trade) {
	if b.isCircuitTripped() {
		b.spillToSpool(batch)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	if err := b.store.InsertBatch(ctx, batch, 100); err != nil {
		b.recordFailure()
		b.spillToSpool(batch)
		return
	}
	b.recordSuccess()
}

func (b *Buffer) spillToSpool(batch []storegateway.Trade) {
	records := make([][]byte, 0, len(batch))
	for _, row := range batch {
		data, err := json.Marshal(row)
		if err != nil {
			log.Printf("⚠️  spool: failed to marshal trade %s: %v", row.ID, err)
			continue
		}
		records = append(records, data)
	}
	if err := b.spool.Append(records); err != nil {
		log.Printf("❌ spool append failed, %d trades lost: %v", len(records), err)
	}
}

func (b *Buffer) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	window := time.Duration(b.cfg.InsertFailWindowMS) * time.Millisecond
	b.failTimestamps = append(b.failTimestamps, now)
	b.failTimestamps = trimOlderThan(b.failTimestamps, now, window)

	if len(b.failTimestamps) >= b.cfg.InsertFailThreshold {
		if !b.circuitTripped {
			log.Printf("🔴 trade buffer circuit tripped after %d failures in %v", len(b.failTimestamps), window)
		}
		b.circuitTripped = true
	}
}

func (b *Buffer) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTimestamps = nil
}

func (b *Buffer) isCircuitTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuitTripped
}

// untrip clears the circuit once the spool has proven the store is
// reachable again.
func (b *Buffer) untrip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.circuitTripped {
		log.Println("🟢 trade buffer circuit reset, store reachable again")
	}
	b.circuitTripped = false
	b.failTimestamps = nil
}

func trimOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if now.Sub(t) < window {
			out = append(out, t)
		}
	}
	return out
}

func (b *Buffer) replayLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Duration(b.cfg.SpoolReplayMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.replayOnce()
		}
	}
}

func (b *Buffer) replayOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	succeeded, remaining, err := b.spool.Replay(func(record []byte) error {
		var row storegateway.Trade
		if err := json.Unmarshal(record, &row); err != nil {
			// malformed-input: drop the line rather than loop on it forever.
			return nil
		}
		insertErr := b.store.Insert(ctx, &row)
		if insertErr == nil || storegateway.IsDuplicateKey(insertErr) {
			return nil
		}
		return insertErr
	})
	if err != nil {
		log.Printf("⚠️  spool replay error: %v", err)
		return
	}
	if succeeded > 0 {
		b.untrip()
	}
	_ = remaining
}

// DedupeSize reports the current in-memory dedupe cache size, for tests
// and operational logging.
func (b *Buffer) DedupeSize() int { return b.dedup.Len() }

func (b *Buffer) dedupeSweeper(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			evicted := b.dedup.Sweep(time.Now())
			if evicted > 0 {
				log.Printf("🧹 trade dedupe cache evicted %d expired entries", evicted)
			}
		}
	}
}
