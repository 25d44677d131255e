package livestream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"marketpulse/config"
	"marketpulse/storegateway"
)

// Handler serves the live stream SSE endpoint (§4.12). Grounded on the
// teacher's realtime/broker.go (SSE headers, flusher-driven writes) and
// api/dashboard_sse.go (ticker-driven event loop with named events),
// re-targeted at market-scoped tick/trade/movement/rotate events
// instead of the teacher's fixed dashboard payload set.
type Handler struct {
	store    *storegateway.Store
	dominant dominantSource
	cfg      config.StreamConfig
}

func NewHandler(store *storegateway.Store, dominant dominantSource, cfg config.StreamConfig) *Handler {
	if cfg.HeartbeatMS <= 0 {
		cfg.HeartbeatMS = 15_000
	}
	if cfg.PollMS <= 0 {
		cfg.PollMS = 1_000
	}
	if cfg.InitialBurst <= 0 {
		cfg.InitialBurst = 500
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10
	}
	return &Handler{store: store, dominant: dominant, cfg: cfg}
}

type tickKey struct{ market, outcome string }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := ParseParams(r)
	if params.empty() {
		http.Error(w, "no markets", http.StatusBadRequest)
		return
	}

	markets := resolveMarketIDs(ctx, h.store, params)
	if len(markets) == 0 {
		http.Error(w, "no markets", http.StatusBadRequest)
		return
	}
	pred := newPredicate(params, h.dominant, markets)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	session := &streamSession{
		h: h, w: w, flusher: flusher, params: params,
		markets: markets, pred: pred,
	}
	session.run(ctx)
}

// streamSession holds per-connection mutable state: cursors, the
// overlap guard, and the staleness counter.
type streamSession struct {
	h       *Handler
	w       http.ResponseWriter
	flusher http.Flusher
	params  Params
	markets []string
	pred    *Predicate

	lastTickIso  time.Time
	lastTradeIso time.Time
	lastMoveIso  time.Time

	polling      int32
	emptyPolls   int
	hadActivity  bool

	closeOnce sync.Once
}

func (s *streamSession) run(ctx context.Context) {
	log.Printf("📡 livestream: client connected, markets=%d", len(s.markets))

	s.sendInitialBurst(ctx)

	now := time.Now()
	s.lastTickIso, s.lastTradeIso, s.lastMoveIso = now, now, now

	heartbeat := time.NewTicker(time.Duration(s.h.cfg.HeartbeatMS) * time.Millisecond)
	poll := time.NewTicker(time.Duration(s.h.cfg.PollMS) * time.Millisecond)
	defer heartbeat.Stop()
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeOnce.Do(func() {
				log.Println("📡 livestream: client disconnected")
			})
			return
		case <-heartbeat.C:
			fmt.Fprint(s.w, ": keep-alive\n\n")
			s.flusher.Flush()
		case <-poll.C:
			if !atomic.CompareAndSwapInt32(&s.polling, 0, 1) {
				continue
			}
			go func() {
				defer atomic.StoreInt32(&s.polling, 0)
				s.pollOnce(ctx)
			}()
		}
	}
}

// sendInitialBurst implements §4.12's initial-burst step: latest
// InitialBurst ticks across every requested market, deduped to the
// newest per (market, outcome), filtered by the predicate.
func (s *streamSession) sendInitialBurst(ctx context.Context) {
	var ticks []storegateway.MidTick
	if err := s.h.store.Fetch(ctx, &ticks, "market IN ?", []interface{}{s.markets}, "timestamp desc", s.h.cfg.InitialBurst); err != nil {
		log.Printf("⚠️  livestream: initial burst fetch failed: %v", err)
		return
	}

	seen := make(map[tickKey]bool)
	for _, t := range ticks {
		key := tickKey{t.Market, t.Outcome}
		if seen[key] {
			continue
		}
		seen[key] = true
		if !s.pred.shouldInclude(t.Market, t.Outcome) {
			continue
		}
		writeEvent(s.w, "tick", t)
	}
	s.flusher.Flush()
}

// pollOnce implements §4.12's poll step: ticks/trades/movements fetched
// concurrently on independent cursors, each processed even if another
// one errors.
func (s *streamSession) pollOnce(ctx context.Context) {
	var wg sync.WaitGroup
	var ticks []storegateway.MidTick
	var trades []storegateway.Trade
	var movements []storegateway.Movement

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := s.h.store.Fetch(ctx, &ticks, "market IN ? AND timestamp > ?",
			[]interface{}{s.markets, s.lastTickIso}, "timestamp asc", 0); err != nil {
			log.Printf("⚠️  livestream: tick poll failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.h.store.Fetch(ctx, &trades, "market IN ? AND timestamp > ?",
			[]interface{}{s.markets, s.lastTradeIso}, "timestamp asc", 0); err != nil {
			log.Printf("⚠️  livestream: trade poll failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.h.store.Fetch(ctx, &movements, "market IN ? AND window_end > ?",
			[]interface{}{s.markets, s.lastMoveIso}, "window_end asc", 0); err != nil {
			log.Printf("⚠️  livestream: movement poll failed: %v", err)
		}
	}()
	wg.Wait()

	for _, t := range ticks {
		if t.Timestamp.After(s.lastTickIso) {
			s.lastTickIso = t.Timestamp
		}
		if s.pred.shouldInclude(t.Market, t.Outcome) {
			writeEvent(s.w, "tick", t)
		}
	}
	for _, t := range trades {
		if t.Timestamp.After(s.lastTradeIso) {
			s.lastTradeIso = t.Timestamp
		}
		if s.pred.shouldInclude(t.Market, t.OutcomeLabel) {
			writeEvent(s.w, "trade", t)
		}
	}
	enriched := enrichMovements(ctx, s.h.store, movements)
	for _, m := range enriched {
		if m.WindowEnd.After(s.lastMoveIso) {
			s.lastMoveIso = m.WindowEnd
		}
		if s.pred.shouldInclude(m.Market, m.Outcome) {
			writeEvent(s.w, "movement", m)
		}
	}
	s.flusher.Flush()

	s.trackStaleness(ctx, len(ticks) > 0)
}

// trackStaleness implements §4.12's staleness/rotate behavior: once a
// connection has seen activity, StaleThreshold consecutive empty polls
// trigger a re-resolution of slugs to market ids and a "rotate" event.
func (s *streamSession) trackStaleness(ctx context.Context, gotTicks bool) {
	if gotTicks {
		s.hadActivity = true
		s.emptyPolls = 0
		return
	}
	if !s.hadActivity {
		return
	}

	s.emptyPolls++
	slugs := s.params.Slugs
	if len(slugs) == 0 {
		slugs = s.params.EventSlugs
	}
	if s.emptyPolls < s.h.cfg.StaleThreshold || len(slugs) == 0 {
		return
	}

	resolved := resolveSlugs(ctx, s.h.store, slugs)
	if len(resolved) == 0 {
		return
	}

	s.markets = resolved
	s.pred = newPredicate(s.params, s.h.dominant, s.markets)
	s.lastTickIso = time.Now().Add(-2 * time.Minute)
	s.emptyPolls = 0

	writeEvent(s.w, "rotate", map[string]interface{}{"market_ids": resolved})
	s.flusher.Flush()
	log.Printf("🔄 livestream: rotated to %d markets after staleness", len(resolved))
}

func writeEvent(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("⚠️  livestream: marshal %s event failed: %v", event, err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
