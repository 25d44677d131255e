// Package realtime implements the per-asset real-time movement detector
// (§4.6): an EMA pair plus a rolling 60-bucket one-minute OHLC history
// drive breakout and EMA-cross rules, gated by spread/size/step filters,
// a stability ("pending price") check, and a per-(asset,reason) cooldown.
package realtime

import (
	"math"
	"sync"
	"time"

	"marketpulse/config"
	"marketpulse/normalize"
)

// EventKind names the rule that fired.
type EventKind string

const (
	BreakoutUp   EventKind = "breakout_up"
	BreakoutDown EventKind = "breakout_down"
	EMACrossUp   EventKind = "ema_cross_up"
	EMACrossDown EventKind = "ema_cross_down"
)

// Event is an emitted real-time movement, written by callers into the
// event table named in §4.6.
type Event struct {
	Asset     string
	Market    string
	Kind      EventKind
	Price     float64
	Timestamp time.Time
}

type ohlcBucket struct {
	bucketStart int64
	open, high, low, close float64
}

type assetState struct {
	lastPrice float64
	lastTs    time.Time
	hasLast   bool

	emaFast, emaSlow float64
	hasEMA           bool

	buckets []ohlcBucket

	pendingPrice float64
	pendingCount int
	pendingSince time.Time
	hasPending   bool

	emaDir          int
	pendingDir      int
	pendingDirCount int
	lastDirChangeAt time.Time

	lastEventAt map[EventKind]time.Time
	lastTradeAt time.Time
	lastSeenAt  time.Time
}

// Detector owns per-asset state; every mutation happens under one
// detector-wide mutex, so the whole detector is safe to drive from one
// or many goroutines.
type Detector struct {
	minMS   time.Duration
	minStep float64
	cfg     config.RealtimeTuning
	emit    func(Event)

	mu     sync.Mutex
	states map[string]*assetState
}

// New builds a Detector. minMS/minStep are §4.6 step 1's gate between
// consecutive ticks (MOVEMENT_MIN_MS / MOVEMENT_MIN_STEP); rt is the
// MOVEMENT_RT_* tuning for EMA, persistence, and cooldowns.
func New(minMS int, minStep float64, rt config.RealtimeTuning, emit func(Event)) *Detector {
	return &Detector{
		minMS:   time.Duration(minMS) * time.Millisecond,
		minStep: minStep,
		cfg:     rt,
		emit:    emit,
		states:  make(map[string]*assetState),
	}
}

// RecordTrade marks that a trade was just seen on asset, used by the
// "recent trade" guard in step 6.
func (d *Detector) RecordTrade(asset string, ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stateFor(asset)
	if ts.After(s.lastTradeAt) {
		s.lastTradeAt = ts
	}
}

func (d *Detector) stateFor(asset string) *assetState {
	s, ok := d.states[asset]
	if !ok {
		s = &assetState{lastEventAt: make(map[EventKind]time.Time)}
		d.states[asset] = s
	}
	return s
}

// OnTick runs the full per-tick pipeline described in §4.6.
func (d *Detector) OnTick(tick normalize.Tick, market string) {
	if tick.Mid == nil {
		return
	}
	price := *tick.Mid

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stateFor(tick.Asset)
	s.lastSeenAt = tick.Timestamp

	// Step 1: gates.
	if tick.SpreadPct != nil && *tick.SpreadPct > d.cfg.MaxSpreadPct {
		return
	}
	bidSize, askSize := 0.0, 0.0
	if tick.BestBidSize != nil {
		bidSize = *tick.BestBidSize
	}
	if tick.BestAskSize != nil {
		askSize = *tick.BestAskSize
	}
	if bidSize < d.cfg.MinTopSize && askSize < d.cfg.MinTopSize {
		return
	}
	if s.hasLast {
		if tick.Timestamp.Sub(s.lastTs) < d.minMS {
			return
		}
		if math.Abs(price-s.lastPrice) < d.minStep {
			return
		}
	}

	// Step 2: EMA update.
	if s.hasLast {
		dt := tick.Timestamp.Sub(s.lastTs).Seconds()
		if dt < 0 {
			dt = 0
		}
		if !s.hasEMA {
			s.emaFast, s.emaSlow = price, price
			s.hasEMA = true
		} else {
			s.emaFast = ema(s.emaFast, price, dt, float64(d.cfg.EMAFastSec))
			s.emaSlow = ema(s.emaSlow, price, dt, float64(d.cfg.EMASlowSec))
		}
	} else {
		s.emaFast, s.emaSlow = price, price
		s.hasEMA = true
	}
	s.lastPrice = price
	s.lastTs = tick.Timestamp
	s.hasLast = true

	// Step 3: OHLC bucket. Deferred so the breakout rule below compares
	// the price against the range as it stood before this tick.
	defer d.updateBucket(s, tick.Timestamp, price)

	// Step 4: stability.
	stable := d.updateStability(s, price, tick.Timestamp)
	if !stable {
		return
	}

	// Step 6 guard (checked before emitting, applies to every rule).
	if tick.Timestamp.Sub(s.lastTradeAt) > time.Duration(d.cfg.TradeConfirmMS)*time.Millisecond {
		return
	}

	// Step 5: rules.
	d.checkBreakout(s, market, tick.Asset, price, tick.Timestamp)
	d.checkEMACross(s, market, tick.Asset, price, tick.Timestamp)
}

func ema(prev, price, dtSeconds, tauSeconds float64) float64 {
	if tauSeconds <= 0 {
		return price
	}
	alpha := 1 - math.Exp(-dtSeconds/tauSeconds)
	return prev + alpha*(price-prev)
}

func (d *Detector) updateBucket(s *assetState, ts time.Time, price float64) {
	bucketStart := ts.Unix() / 60

	if n := len(s.buckets); n > 0 && s.buckets[n-1].bucketStart == bucketStart {
		b := &s.buckets[n-1]
		if price > b.high {
			b.high = price
		}
		if price < b.low {
			b.low = price
		}
		b.close = price
		return
	}

	s.buckets = append(s.buckets, ohlcBucket{bucketStart: bucketStart, open: price, high: price, low: price, close: price})
	if len(s.buckets) > 60 {
		s.buckets = s.buckets[len(s.buckets)-60:]
	}
}

// updateStability implements the pendingCount/pendingPrice gate: rules
// only fire once the price has held within MinStep for PersistTicks
// ticks or PersistMS of wall time.
func (d *Detector) updateStability(s *assetState, price float64, ts time.Time) bool {
	if !s.hasPending || math.Abs(price-s.pendingPrice) > d.minStep {
		s.pendingPrice = price
		s.pendingCount = 1
		s.pendingSince = ts
		s.hasPending = true
	} else {
		s.pendingCount++
	}

	if s.pendingCount >= d.cfg.PersistTicks {
		return true
	}
	if !s.pendingSince.IsZero() && ts.Sub(s.pendingSince) >= time.Duration(d.cfg.PersistMS)*time.Millisecond {
		return true
	}
	return false
}

func (d *Detector) cooldownOK(s *assetState, kind EventKind, ts time.Time) bool {
	last, ok := s.lastEventAt[kind]
	if !ok {
		return true
	}
	return ts.Sub(last) >= time.Duration(d.cfg.EventCooldownMS)*time.Millisecond
}

func (d *Detector) checkBreakout(s *assetState, market, asset string, price float64, ts time.Time) {
	if len(s.buckets) == 0 {
		return
	}
	high, low := s.buckets[0].high, s.buckets[0].low
	for _, b := range s.buckets {
		if b.high > high {
			high = b.high
		}
		if b.low < low {
			low = b.low
		}
	}

	breakoutPct := d.cfg.BreakoutPct
	if breakoutPct <= 0 {
		breakoutPct = 0.03
	}

	if high > 0 && price >= (1+breakoutPct)*high && d.cooldownOK(s, BreakoutUp, ts) {
		s.lastEventAt[BreakoutUp] = ts
		d.emit(Event{Asset: asset, Market: market, Kind: BreakoutUp, Price: price, Timestamp: ts})
		return
	}
	if low > 0 && price <= (1-breakoutPct)*low && d.cooldownOK(s, BreakoutDown, ts) {
		s.lastEventAt[BreakoutDown] = ts
		d.emit(Event{Asset: asset, Market: market, Kind: BreakoutDown, Price: price, Timestamp: ts})
	}
}

func (d *Detector) checkEMACross(s *assetState, market, asset string, price float64, ts time.Time) {
	if s.emaSlow == 0 || price == 0 {
		return
	}
	gapPct := math.Abs(s.emaFast-s.emaSlow) / price
	minPct := math.Abs(price-s.emaSlow) / s.emaSlow
	if gapPct < d.cfg.EMAGapPct || minPct < d.cfg.EMAMinPct {
		s.pendingDirCount = 0
		return
	}

	dir := 1
	if s.emaFast < s.emaSlow {
		dir = -1
	}

	if dir == s.emaDir {
		return // not a cross, still trending the same way
	}

	if dir == s.pendingDir {
		s.pendingDirCount++
	} else {
		s.pendingDir = dir
		s.pendingDirCount = 1
	}

	if s.pendingDirCount < d.cfg.EMAConfirmTicks {
		return
	}
	if !s.lastDirChangeAt.IsZero() && ts.Sub(s.lastDirChangeAt) < time.Duration(d.cfg.EMADirCooldownMS)*time.Millisecond {
		return
	}

	kind := EMACrossUp
	if dir < 0 {
		kind = EMACrossDown
	}
	if !d.cooldownOK(s, kind, ts) {
		return
	}

	s.emaDir = dir
	s.lastDirChangeAt = ts
	s.lastEventAt[kind] = ts
	s.pendingDirCount = 0
	d.emit(Event{Asset: asset, Market: market, Kind: kind, Price: price, Timestamp: ts})
}

// EvictIdle removes every asset state last seen more than evictAfter
// before now, freeing
// memory for instruments that dropped out of the subscription set.
func (d *Detector) EvictIdle(now time.Time, evictAfter time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for asset, s := range d.states {
		if now.Sub(s.lastSeenAt) > evictAfter {
			delete(d.states, asset)
			evicted++
		}
	}
	return evicted
}
