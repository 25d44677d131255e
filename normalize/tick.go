package normalize

import (
	"fmt"
	"time"
)

// MaxSpreadPct is the hard rejection threshold for book snapshots (§4.4).
// The real-time detector applies its own configurable spread gate on top.
const MaxSpreadPct = 0.30

// Tick is a venue-agnostic top-of-book snapshot.
type Tick struct {
	Market      string
	Asset       string
	Outcome     string
	BestBid     *float64
	BestAsk     *float64
	Mid         *float64
	Spread      *float64
	SpreadPct   *float64
	BestBidSize *float64
	BestAskSize *float64
	Timestamp   time.Time
}

// RawBook is what an adapter extracts from a venue orderbook snapshot.
type RawBook struct {
	Market      string
	Asset       string
	Outcome     string
	BestBid     *float64
	BestAsk     *float64
	BestBidSize *float64
	BestAskSize *float64
	Timestamp   time.Time
}

// ErrCrossedBook is returned when bid >= ask.
var ErrCrossedBook = fmt.Errorf("normalize: crossed book")

// ErrSpreadTooWide is returned when spread% reaches or exceeds MaxSpreadPct.
var ErrSpreadTooWide = fmt.Errorf("normalize: spread exceeds %.0f%%", MaxSpreadPct*100)

// Normalize computes mid/spread/spread% and rejects crossed books or
// excessive spreads, per §4.4's book normalization rules.
func (r RawBook) Normalize() (Tick, error) {
	tick := Tick{
		Market:      r.Market,
		Asset:       r.Asset,
		Outcome:     r.Outcome,
		BestBid:     r.BestBid,
		BestAsk:     r.BestAsk,
		BestBidSize: r.BestBidSize,
		BestAskSize: r.BestAskSize,
		Timestamp:   r.Timestamp,
	}

	if r.BestBid == nil || r.BestAsk == nil {
		return tick, nil
	}

	bid, ask := *r.BestBid, *r.BestAsk
	if bid >= ask {
		return Tick{}, ErrCrossedBook
	}

	mid := (bid + ask) / 2
	spread := ask - bid
	var spreadPct float64
	if mid > 0 {
		spreadPct = spread / mid
	}
	// The small tolerance keeps a spread of exactly MaxSpreadPct in decimal
	// terms (0.15 over a 0.5 mid) from slipping under it by binary rounding.
	if spreadPct >= MaxSpreadPct-1e-9 {
		return Tick{}, ErrSpreadTooWide
	}

	tick.Mid = &mid
	tick.Spread = &spread
	tick.SpreadPct = &spreadPct
	return tick, nil
}
