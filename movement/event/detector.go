// Package event implements the event-level movement scan (§4.8): the
// same hit-rule math as the windowed scanner, but run across every
// child market of a logical event (the {slug} identity every adapter
// extracts via normalize.ExtractMarketIdentity) instead of a single
// market, with each child's contribution weighted by its own window
// volume.
package event

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"marketpulse/config"
	"marketpulse/movement"
	"marketpulse/storegateway"
)

// eventWindows are the two window lengths the event scan evaluates
// per trade. The spec names "1h, 4h" explicitly for event scans rather
// than the full 5m/15m/1h/4h ladder windowed markets use -- a single
// market can move fast, but an event only "moves" once enough of its
// children have traded to make the aggregate meaningful.
var eventWindows = []struct {
	duration time.Duration
	label    string
}{
	{time.Hour, "1h"},
	{4 * time.Hour, "4h"},
}

const computeCooldown = 3 * time.Second

// Detector scans every child market of an event on each trade that
// belongs to it.
type Detector struct {
	cfg      config.MovementConfig
	store    *storegateway.Store
	registry *Registry

	mu          sync.Mutex
	lastCompute map[string]time.Time
}

func New(cfg config.MovementConfig, store *storegateway.Store, registry *Registry) *Detector {
	return &Detector{cfg: cfg, store: store, registry: registry, lastCompute: make(map[string]time.Time)}
}

// OnTrade records the trade's market under eventSlug and, once the
// event has enough child markets tracked, rescans every event window.
func (d *Detector) OnTrade(ctx context.Context, eventSlug, market, outcome string, ts time.Time) {
	if eventSlug == "" || market == "" {
		return
	}
	d.registry.Record(eventSlug, market)

	children := d.registry.Children(eventSlug)
	min := d.cfg.EventMinChildMarkets
	if min <= 0 {
		min = 2
	}
	if len(children) < min {
		return
	}

	for _, w := range eventWindows {
		d.scanEventWindow(ctx, eventSlug, outcome, children, w.duration, w.label, ts)
	}
}

func (d *Detector) throttled(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastCompute[key]; ok && now.Sub(last) < computeCooldown {
		return true
	}
	d.lastCompute[key] = now
	return false
}

// childStats is one child market's contribution to the weighted event
// window: its own price range (from its own ticks, falling back to
// its own trades) plus its own trade volume, which is also its weight.
type childStats struct {
	market        string
	first, last   float64
	min, max      float64
	volume        float64
	hourMaxVolume float64
	tradesCount   int
	priceLevels   int
}

func (d *Detector) scanEventWindow(ctx context.Context, eventSlug, outcome string, children []string, duration time.Duration, label string, now time.Time) {
	key := eventSlug + "|" + outcome + "|" + label
	if d.throttled(key, now) {
		return
	}

	windowStart := now.Add(-duration)
	wc := d.cfg.Windows["event"]

	var perChild []childStats
	totalVolume := 0.0
	totalHourMax := 0.0
	totalTrades := 0
	totalLevels := 0

	for _, market := range children {
		var trades []storegateway.Trade
		if err := d.store.Fetch(ctx, &trades, "market = ? AND outcome_label = ? AND timestamp >= ? AND timestamp <= ?",
			[]interface{}{market, outcome, windowStart, now}, "timestamp asc", 0); err != nil {
			log.Printf("⚠️  event: fetch trades failed for %s/%s: %v", market, outcome, err)
			continue
		}
		var ticks []storegateway.MidTick
		if err := d.store.Fetch(ctx, &ticks, "market = ? AND outcome = ? AND timestamp >= ? AND timestamp <= ?",
			[]interface{}{market, outcome, windowStart, now}, "timestamp asc", 0); err != nil {
			log.Printf("⚠️  event: fetch ticks failed for %s/%s: %v", market, outcome, err)
			continue
		}
		if len(trades) == 0 && len(ticks) == 0 {
			continue
		}

		first, last, lo, hi := priceRange(trades, ticks)
		vol := tradeVolume(trades)
		hourMax := maxHourlyBucketVolume(trades)
		levels := uniquePriceLevels(trades, ticks)

		perChild = append(perChild, childStats{
			market: market, first: first, last: last, min: lo, max: hi,
			volume: vol, hourMaxVolume: hourMax, tradesCount: len(trades), priceLevels: levels,
		})
		totalVolume += vol
		totalHourMax += hourMax
		totalTrades += len(trades)
		totalLevels += levels
	}

	if len(perChild) < 2 {
		return
	}

	first, last, min, max := weightedPriceRange(perChild)

	var agg storegateway.Aggregate
	aggExists := d.store.DB().WithContext(ctx).Where("market = ?", eventSlug).First(&agg).Error == nil
	ageDays := 0.0
	if aggExists {
		ageDays = now.Sub(agg.FirstSeen).Hours() / 24
	}
	hourlyBaseline, _ := movement.HourlyBaselineVolume(agg.TotalVolume, ageDays)
	scaledBaseline := hourlyBaseline * (duration.Hours())

	stats := movement.Stats{
		FirstPrice: first, LastPrice: last, MinPrice: min, MaxPrice: max,
		Volume: totalVolume, MaxHourVolume: totalHourMax,
		WindowMinutes: duration.Minutes(),
	}
	params := movement.HitParams{
		PriceThreshold: wc.PriceThreshold, ThinThreshold: wc.ThinThreshold, MinAbsMove: wc.MinAbsMove,
		VolumeThreshold: wc.VolumeThreshold, VelocityThreshold: d.cfg.VelocityThreshold,
		MinPriceForAlert: d.cfg.MinPriceForAlert, ScaledBaseline: scaledBaseline, HourlyBaseline: hourlyBaseline,
		AgeDaysKnown: aggExists, AgeDays: ageDays,
	}
	result := movement.Evaluate(stats, params)
	if !result.Hit {
		return
	}

	bucket := now.UnixMilli() / wc.IDBucketDivisor
	id := fmt.Sprintf("event:%s:EVENT:%s:%d", eventSlug, label, bucket)

	volumeRatio := ratio(totalVolume, scaledBaseline)
	hourlyRatio := ratio(totalHourMax, hourlyBaseline)
	velocity := 0.0
	if stats.WindowMinutes > 0 {
		velocity = math.Abs(result.Drift) / math.Sqrt(stats.WindowMinutes)
	}

	row := storegateway.Movement{
		ID: id, Market: eventSlug, Outcome: outcome, WindowType: "event",
		WindowStart: windowStart, WindowEnd: now,
		FirstPrice: first, LastPrice: last, MinPrice: min, MaxPrice: max,
		PctChange: result.Drift, RangePct: result.RangePct,
		Volume: totalVolume, HourlyBaselineVol: hourlyBaseline, VolumeRatio: volumeRatio, HourlyRatio: hourlyRatio,
		Reason: string(result.Reason), ThinLiquidity: result.Thin, Status: "OPEN", Velocity: velocity,
		FinalizeAt: now.Add(time.Duration(wc.SettleDelayMS) * time.Millisecond),
		TradesCount: totalTrades, PriceLevels: totalLevels,
	}

	if err := d.store.Insert(ctx, &row); err != nil {
		log.Printf("⚠️  event: insert movement %s failed: %v", id, err)
		return
	}
	log.Printf("📈 event movement %s children=%d reason=%s drift=%.3f", id, len(perChild), result.Reason, result.Drift)
}

func ratio(value, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return value / baseline
}

// weightedPriceRange blends every child's price range, weighting each
// child's first/last contribution by its own window volume so a
// thinly-traded child can't swing the event-level read on its own.
func weightedPriceRange(children []childStats) (first, last, min, max float64) {
	totalWeight := 0.0
	for _, c := range children {
		w := c.volume
		if w <= 0 {
			w = 1
		}
		first += c.first * w
		last += c.last * w
		totalWeight += w
	}
	if totalWeight > 0 {
		first /= totalWeight
		last /= totalWeight
	}
	min, max = children[0].min, children[0].max
	for _, c := range children[1:] {
		if c.min < min {
			min = c.min
		}
		if c.max > max {
			max = c.max
		}
	}
	return
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
		for _, t := range ticks {
			if t.Mid == nil {
				continue
			}
			consider(*t.Mid)
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

func maxHourlyBucketVolume(trades []storegateway.Trade) float64 {
	buckets := make(map[int64]float64)
	for _, t := range trades {
		b := t.Timestamp.Unix() / 3600
		buckets[b] += t.Size
	}
	max := 0.0
	for _, v := range buckets {
		if v > max {
			max = v
		}
	}
	return max
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
