// Package storegateway is the thin adapter every other component goes
// through to reach the row store. It never caches; callers that need
// caching wrap it themselves (see cache.RedisClient).
package storegateway

import "time"

// Trade is a single normalized execution. Once persisted it is immutable;
// the id is deterministic so retries are idempotent.
type Trade struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Market       string    `gorm:"column:market;index:idx_trades_market"`
	OutcomeLabel string    `gorm:"column:outcome_label"`
	OutcomeIndex int       `gorm:"column:outcome_index"`
	Price        float64   `gorm:"column:price"`
	Size         float64   `gorm:"column:size"`
	Side         string    `gorm:"column:side"`
	Timestamp    time.Time `gorm:"column:timestamp;index:idx_trades_market_ts"`
	RawPayload   string    `gorm:"column:raw_payload;type:jsonb"`
}

func (Trade) TableName() string { return "trades" }

// MidTick is a top-of-book observation, written only when the quote
// changed or the 2s bucket rolled.
type MidTick struct {
	Market       string    `gorm:"column:market;primaryKey;index:idx_midticks_market_ts"`
	Asset        string    `gorm:"column:asset;primaryKey"`
	Timestamp    time.Time `gorm:"column:timestamp;primaryKey"`
	Outcome      string    `gorm:"column:outcome"`
	BestBid      *float64  `gorm:"column:best_bid"`
	BestAsk      *float64  `gorm:"column:best_ask"`
	Mid          *float64  `gorm:"column:mid"`
	Spread       *float64  `gorm:"column:spread"`
	SpreadPct    *float64  `gorm:"column:spread_pct"`
	BestBidSize  *float64  `gorm:"column:best_bid_size"`
	BestAskSize  *float64  `gorm:"column:best_ask_size"`
}

func (MidTick) TableName() string { return "mid_ticks" }

// MarketMidLatest holds the most recent mid-tick per (market, asset); every
// insert overwrites the prior row.
type MarketMidLatest struct {
	Market      string    `gorm:"column:market;primaryKey"`
	Asset       string    `gorm:"column:asset;primaryKey"`
	Outcome     string    `gorm:"column:outcome"`
	BestBid     *float64  `gorm:"column:best_bid"`
	BestAsk     *float64  `gorm:"column:best_ask"`
	Mid         *float64  `gorm:"column:mid"`
	Spread      *float64  `gorm:"column:spread"`
	SpreadPct   *float64  `gorm:"column:spread_pct"`
	Timestamp   time.Time `gorm:"column:timestamp"`
}

func (MarketMidLatest) TableName() string { return "market_mid_latest" }

// Aggregate is the running per-market rollup, merged from buffered deltas.
type Aggregate struct {
	Market       string    `gorm:"column:market;primaryKey"`
	TradeCount   int64     `gorm:"column:trade_count"`
	TotalVolume  float64   `gorm:"column:total_volume"`
	BuyVolume    float64   `gorm:"column:buy_volume"`
	SellVolume   float64   `gorm:"column:sell_volume"`
	AvgTradeSize float64   `gorm:"column:avg_trade_size"`
	FirstPrice   float64   `gorm:"column:first_price"`
	LastPrice    float64   `gorm:"column:last_price"`
	MinPrice     float64   `gorm:"column:min_price"`
	MaxPrice     float64   `gorm:"column:max_price"`
	FirstSeen    time.Time `gorm:"column:first_seen"`
	LastSeen     time.Time `gorm:"column:last_seen"`
}

func (Aggregate) TableName() string { return "aggregates" }

// Movement is a detected window-level anomaly. At most one row exists per
// id; status moves OPEN -> FINAL and never back.
type Movement struct {
	ID                 string    `gorm:"column:id;primaryKey"`
	Market             string    `gorm:"column:market;index:idx_movements_market"`
	Outcome            string    `gorm:"column:outcome"`
	WindowType         string    `gorm:"column:window_type"`
	WindowStart        time.Time `gorm:"column:window_start"`
	WindowEnd          time.Time `gorm:"column:window_end"`
	FirstPrice         float64   `gorm:"column:first_price"`
	LastPrice          float64   `gorm:"column:last_price"`
	MinPrice           float64   `gorm:"column:min_price"`
	MaxPrice           float64   `gorm:"column:max_price"`
	PctChange          float64   `gorm:"column:pct_change"`
	RangePct           float64   `gorm:"column:range_pct"`
	Volume             float64   `gorm:"column:volume"`
	HourlyBaselineVol  float64   `gorm:"column:hourly_baseline_volume"`
	VolumeRatio        float64   `gorm:"column:volume_ratio"`
	HourlyRatio        float64   `gorm:"column:hourly_ratio"`
	Reason             string    `gorm:"column:reason"`
	ThinLiquidity      bool      `gorm:"column:thin_liquidity"`
	Status             string    `gorm:"column:status;index:idx_movements_status"`
	Velocity           float64   `gorm:"column:velocity"`
	FinalizeAt         time.Time `gorm:"column:finalize_at;index:idx_movements_finalize_at"`
	TradesCount        int       `gorm:"column:trades_count"`
	PriceLevels        int       `gorm:"column:price_levels"`
}

func (Movement) TableName() string { return "movements" }

// MovementExplanation is the narrative text attached to a movement, one per
// movement, written once by the signal scorer.
type MovementExplanation struct {
	MovementID string `gorm:"column:movement_id;primaryKey"`
	Text       string `gorm:"column:text"`
	Source     string `gorm:"column:source"` // "ai" or "template"
}

func (MovementExplanation) TableName() string { return "movement_explanations" }

// SignalScore is the classified, scored movement. Written only when the
// adjusted confidence clears the configured floor; never re-written.
type SignalScore struct {
	MovementID     string  `gorm:"column:movement_id;primaryKey"`
	CapitalScore   float64 `gorm:"column:capital_score"`
	InfoScore      float64 `gorm:"column:info_score"`
	VelocityScore  float64 `gorm:"column:velocity_score"`
	LiquidityRisk  float64 `gorm:"column:liquidity_risk"`
	TimeScore      float64 `gorm:"column:time_score"`
	NewsScore      float64 `gorm:"column:news_score"`
	Classification string  `gorm:"column:classification"`
	Confidence     float64 `gorm:"column:confidence"`
}

func (SignalScore) TableName() string { return "signal_scores" }

// DominantOutcome is the outcome currently carrying the most recent
// volume/trade activity for a market.
type DominantOutcome struct {
	Market       string    `gorm:"column:market;primaryKey"`
	OutcomeLabel string    `gorm:"column:outcome_label"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (DominantOutcome) TableName() string { return "dominant_outcomes" }

// TrackedSlug records the slug currently being viewed; at most one row is
// active per logical viewer.
type TrackedSlug struct {
	Slug      string    `gorm:"column:slug;primaryKey"`
	Active    bool      `gorm:"column:active"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (TrackedSlug) TableName() string { return "tracked_slugs" }

// NewsCache holds fetched articles keyed by entity slug and time bucket.
type NewsCache struct {
	CacheSlug    string    `gorm:"column:cache_slug;primaryKey"`
	Bucket       int64     `gorm:"column:bucket;primaryKey"`
	ArticlesBlob string    `gorm:"column:articles_blob;type:jsonb"`
	ArticleCount int       `gorm:"column:article_count"`
	Query        string    `gorm:"column:query"`
	FetchedAt    time.Time `gorm:"column:fetched_at"`
}

func (NewsCache) TableName() string { return "news_cache" }

// MarketResolution is optional metadata driving the time score.
type MarketResolution struct {
	Market     string     `gorm:"column:market;primaryKey"`
	EndTime    time.Time  `gorm:"column:end_time"`
	ResolvedAt *time.Time `gorm:"column:resolved_at"`
	Resolved   bool       `gorm:"column:resolved"`
	Status     string     `gorm:"column:status"`
}

func (MarketResolution) TableName() string { return "market_resolutions" }

// RealtimeEvent is a breakout or EMA-cross event emitted by the real-time
// per-asset detector (§4.6) -- kept separate from Movement since these
// fire instantly off a ring buffer rather than a settled window.
type RealtimeEvent struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Asset     string    `gorm:"column:asset;index:idx_realtime_events_asset"`
	Market    string    `gorm:"column:market"`
	Kind      string    `gorm:"column:kind"`
	Price     float64   `gorm:"column:price"`
	Timestamp time.Time `gorm:"column:timestamp"`
}

func (RealtimeEvent) TableName() string { return "realtime_events" }

// AllModels lists every model for AutoMigrate during bootstrap.
func AllModels() []interface{} {
	return []interface{}{
		&Trade{}, &MidTick{}, &MarketMidLatest{}, &Aggregate{}, &Movement{},
		&MovementExplanation{}, &SignalScore{}, &DominantOutcome{},
		&TrackedSlug{}, &NewsCache{}, &MarketResolution{}, &RealtimeEvent{},
	}
}
