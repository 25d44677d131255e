// Package subscription tracks which instruments a venue is currently
// subscribed to and recomputes that set from mover stats and the
// dominant-outcome rule (§4.4's "Subscription Controller" and
// "Subscription selection"). The activity history and its caches are
// owned by the Controller and guarded by its mutexes, so any goroutine
// may record trades or read derived results.
package subscription

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"marketpulse/cache"
	"marketpulse/config"
)

// outcomeStat is the rolling per-(market,outcome) activity used for both
// dominance and mover scoring.
type outcomeStat struct {
	label      string
	volume     float64
	tradeCount int
	lastPrice  float64
	firstPrice float64
	hasFirst   bool
	lastTs     time.Time
}

type observation struct {
	market, outcome string
	price, size     float64
	ts              time.Time
}

// Controller is the single owner of per-market activity history and the
// derived subscription set. All mutation happens through its exported
// methods from whichever goroutine calls them; internal state is mutex
// guarded so readers never observe a torn update.
type Controller struct {
	cfg   config.VenueConfig
	redis *cache.RedisClient

	mu   sync.Mutex
	hist map[string][]observation // market -> recent observations, newest last

	dominantCacheMu sync.Mutex
	dominantCache   map[string]dominantEntry

	reconnectMu      sync.Mutex
	reconnectTimer   *time.Timer
	reconnectPending bool
	onReconnect      func()
}

type dominantEntry struct {
	label     string
	updatedAt time.Time
}

func New(cfg config.VenueConfig, redis *cache.RedisClient) *Controller {
	return &Controller{
		cfg:           cfg,
		redis:         redis,
		hist:          make(map[string][]observation),
		dominantCache: make(map[string]dominantEntry),
	}
}

// RecordTrade folds a trade into the market's recent-activity history,
// trimming entries older than the mover window as it goes.
func (c *Controller) RecordTrade(market, outcome string, price, size float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obs := append(c.hist[market], observation{market: market, outcome: outcome, price: price, size: size, ts: ts})
	window := time.Duration(c.cfg.MoverWindowMS) * time.Millisecond
	obs = trimOlder(obs, ts, window)
	c.hist[market] = obs
}

// Markets returns a snapshot of every market with recent activity history,
// the input the periodic subscription-set recompute iterates over.
func (c *Controller) Markets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.hist))
	for market, obs := range c.hist {
		if len(obs) > 0 {
			out = append(out, market)
		}
	}
	return out
}

func trimOlder(obs []observation, now time.Time, window time.Duration) []observation {
	cut := 0
	for i, o := range obs {
		if now.Sub(o.ts) <= window {
			cut = i
			break
		}
		cut = i + 1
	}
	if cut >= len(obs) {
		return obs[:0]
	}
	return obs[cut:]
}

// outcomeStats aggregates the market's current history into per-outcome
// stats, the shared input to both dominance and mover scoring.
func (c *Controller) outcomeStats(market string) map[string]*outcomeStat {
	c.mu.Lock()
	obs := append([]observation(nil), c.hist[market]...)
	c.mu.Unlock()

	stats := make(map[string]*outcomeStat)
	for _, o := range obs {
		s, ok := stats[o.outcome]
		if !ok {
			s = &outcomeStat{label: o.outcome}
			stats[o.outcome] = s
		}
		s.volume += o.size
		s.tradeCount++
		if !s.hasFirst {
			s.firstPrice = o.price
			s.hasFirst = true
		}
		if !o.ts.Before(s.lastTs) {
			s.lastPrice = o.price
			s.lastTs = o.ts
		}
	}
	return stats
}

// DominantOutcome computes the outcome currently carrying the most recent
// volume/trade activity for market, using a TTL cache to prevent flapping.
// Per the spec's resolved open question, a stale market (no recent trades
// within the TTL) returns ok=false -- "return null, pass-through" -- rather
// than holding the last known value.
func (c *Controller) DominantOutcome(market string) (label string, ok bool) {
	ttl := time.Duration(c.cfg.DominantOutcomeTTLMS) * time.Millisecond

	c.dominantCacheMu.Lock()
	if entry, found := c.dominantCache[market]; found && time.Since(entry.updatedAt) < ttl {
		c.dominantCacheMu.Unlock()
		return entry.label, true
	}
	c.dominantCacheMu.Unlock()

	// Miss the in-process cache (fresh process, or this instance never
	// computed it): check redis before recomputing from history, so a
	// newly started instance doesn't flap the dominant outcome while its
	// own trade history warms back up.
	if c.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var cached string
		getErr := c.redis.Get(ctx, "dominant:"+market, &cached)
		cancel()
		if getErr == nil && cached != "" {
			c.dominantCacheMu.Lock()
			c.dominantCache[market] = dominantEntry{label: cached, updatedAt: time.Now()}
			c.dominantCacheMu.Unlock()
			return cached, true
		}
	}

	stats := c.outcomeStats(market)
	if len(stats) == 0 {
		c.clearDominant(market)
		return "", false
	}

	var best *outcomeStat
	for _, s := range stats {
		if best == nil || s.volume > best.volume ||
			(s.volume == best.volume && s.tradeCount > best.tradeCount) {
			best = s
		}
	}
	if best == nil || best.volume == 0 {
		c.clearDominant(market)
		return "", false
	}

	c.dominantCacheMu.Lock()
	c.dominantCache[market] = dominantEntry{label: best.label, updatedAt: time.Now()}
	c.dominantCacheMu.Unlock()

	if c.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.redis.Set(ctx, "dominant:"+market, best.label, ttl)
		cancel()
	}

	return best.label, true
}

func (c *Controller) clearDominant(market string) {
	c.dominantCacheMu.Lock()
	delete(c.dominantCache, market)
	c.dominantCacheMu.Unlock()
}

// moverScore ranks an outcome by |pctMove| * log10(1 + volume) over the
// mover window, per §4.4.
func moverScore(s *outcomeStat) float64 {
	if !s.hasFirst || s.firstPrice == 0 {
		return 0
	}
	pctMove := math.Abs((s.lastPrice - s.firstPrice) / s.firstPrice)
	return pctMove * math.Log10(1+s.volume)
}

// TopMovers returns up to MaxAssetsPerMarket outcome labels for market,
// ranked by mover score, always keeping "Yes" when it has any activity.
func (c *Controller) TopMovers(market string) []string {
	stats := c.outcomeStats(market)
	type scored struct {
		label string
		score float64
	}
	var all []scored
	hasYes := false
	for label, s := range stats {
		if label == "Yes" {
			hasYes = true
		}
		all = append(all, scored{label: label, score: moverScore(s)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	max := c.cfg.MaxAssetsPerMarket
	if max <= 0 {
		max = 4
	}

	var out []string
	seen := make(map[string]bool)
	if hasYes {
		out = append(out, "Yes")
		seen["Yes"] = true
	}
	for _, s := range all {
		if len(out) >= max {
			break
		}
		if seen[s.label] {
			continue
		}
		out = append(out, s.label)
		seen[s.label] = true
	}
	return out
}

// Shard partitions a combined tracked-asset set into groups of at most
// MaxCLOBAssets, one underlying socket per shard (§4.4 "Adaptive fan-out").
func Shard(assets []string, maxPerShard int) [][]string {
	if maxPerShard <= 0 {
		maxPerShard = 100
	}
	var shards [][]string
	for i := 0; i < len(assets); i += maxPerShard {
		end := i + maxPerShard
		if end > len(assets) {
			end = len(assets)
		}
		shards = append(shards, assets[i:end])
	}
	return shards
}

// ScheduleReconnect debounces calls to fn: only the last call within the
// 5s debounce window actually fires, per §4.4's debounced
// scheduleReconnect.
func (c *Controller) ScheduleReconnect(fn func()) {
	const debounce = 5 * time.Second

	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.onReconnect = fn
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(debounce, func() {
		c.reconnectMu.Lock()
		cb := c.onReconnect
		c.reconnectMu.Unlock()
		if cb != nil {
			log.Println("🔁 subscription set changed, rebuilding sockets")
			cb()
		}
	})
}
