// Package signal implements the Signal Scorer (§4.10): turns a settled
// movement into component scores, a classification, and a persisted
// explanation, using the same filter-pipeline idiom the teacher's
// signal_filter.go applies to its own trading signals.
package signal

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

// NewsScorer is the News Relevance Engine's contribution (§4.11):
// newsScore plus a headline usable in the explanation template.
type NewsScorer interface {
	Score(ctx context.Context, m storegateway.Movement) (score float64, headline string, err error)
}

// recency scales adjustedConfidence by how "fresh" a window type is
// taken to be -- a 5m move still means something an hour later, a 4h
// move has already priced in most of what it's going to.
var recency = map[string]float64{
	"5m": 1.0, "15m": 0.85, "1h": 0.65, "4h": 0.45, "event": 0.80,
}

type cachedResolution struct {
	row      storegateway.MarketResolution
	found    bool
	cachedAt time.Time
}

// Engine scores finalized movements and persists the result.
type Engine struct {
	cfg   config.SignalConfig
	store *storegateway.Store
	news  NewsScorer

	mu          sync.Mutex
	resolutions map[string]cachedResolution
}

func New(cfg config.SignalConfig, store *storegateway.Store, news NewsScorer) *Engine {
	return &Engine{cfg: cfg, store: store, news: news, resolutions: make(map[string]cachedResolution)}
}

// Score implements §4.10 end to end: component scores, classification,
// adjustedConfidence, and persistence. A movement below
// SIGNAL_MIN_CONFIDENCE is dropped silently (no score row, no
// explanation) -- this is not an error.
func (e *Engine) Score(ctx context.Context, m storegateway.Movement) error {
	volumeRatioC := clamp(m.VolumeRatio / 2)
	hourlyRatioC := clamp(m.HourlyRatio / 2)
	capitalScore := 0.6*volumeRatioC + 0.4*hourlyRatioC

	priceScore := 0.5*clamp(math.Abs(m.PctChange)/0.15) + 0.5*clamp(math.Abs(m.RangePct)/0.15)
	velocityScore := clamp(m.Velocity / 0.02)

	tradeRisk := clamp(float64(15-m.TradesCount) / 15)
	levelRisk := clamp(float64(8-m.PriceLevels) / 8)
	thin := 1.0
	if !m.ThinLiquidity {
		thin = 0
	}
	liquidityRisk := 0.6*thin + 0.25*tradeRisk + 0.15*levelRisk

	infoScore := clamp(priceScore * (1 - capitalScore) * (1 - volumeRatioC))

	timeScore := e.timeScore(ctx, m)

	newsScore, headline := 0.0, ""
	if e.news != nil {
		s, h, err := e.news.Score(ctx, m)
		if err != nil {
			log.Printf("⚠️  signal: news scoring failed for %s, degrading to 0: %v", m.ID, err)
		} else {
			newsScore, headline = s, h
		}
	}

	classification, conf := classify(classifyInput{
		thin: m.ThinLiquidity, liquidityRisk: liquidityRisk,
		newsScore: newsScore, infoScore: infoScore,
		velocityScore: velocityScore, priceScore: priceScore,
		capitalScore: capitalScore, timeScore: timeScore,
		tradesCount: m.TradesCount, priceLevels: m.PriceLevels,
		liquidityOverride: e.cfg.LiquidityOverride,
		minInfoTrades:     e.cfg.MinInfoTrades, minInfoLevels: e.cfg.MinInfoLevels,
	})
	if classification == "" {
		return nil
	}

	windowType := movement.LegacyWindowType(m.WindowType)
	rec, ok := recency[windowType]
	if !ok {
		rec = 0.5
	}
	adjustedConfidence := conf * (1 - 0.35*liquidityRisk) * (0.5 + 0.5*rec)

	minConf := e.cfg.MinConfidence
	if minConf <= 0 {
		minConf = 0.25
	}
	if adjustedConfidence < minConf {
		return nil
	}

	row := storegateway.SignalScore{
		MovementID: m.ID, CapitalScore: capitalScore, InfoScore: infoScore,
		VelocityScore: velocityScore, LiquidityRisk: liquidityRisk, TimeScore: timeScore,
		NewsScore: newsScore, Classification: classification, Confidence: adjustedConfidence,
	}
	if err := e.store.Insert(ctx, &row); err != nil {
		return fmt.Errorf("signal: insert score %s: %w", m.ID, err)
	}

	text, source := synthesizeExplanation(m, classification, adjustedConfidence, headline)
	explanation := storegateway.MovementExplanation{MovementID: m.ID, Text: text, Source: source}
	if err := e.store.Insert(ctx, &explanation); err != nil {
		return fmt.Errorf("signal: insert explanation %s: %w", m.ID, err)
	}

	log.Printf("📊 signal %s class=%s confidence=%.3f", m.ID, classification, adjustedConfidence)
	return nil
}

func (e *Engine) timeScore(ctx context.Context, m storegateway.Movement) float64 {
	res, found := e.lookupResolution(ctx, m.Market)
	if !found {
		return 0
	}
	if res.Resolved {
		return 1
	}
	switch res.Status {
	case "resolved", "closed", "settled", "ended":
		return 1
	}

	horizonHours := e.cfg.TimeScoreHorizonHours
	if horizonHours <= 0 {
		horizonHours = 48
	}
	horizon := time.Duration(horizonHours * float64(time.Hour))
	remaining := res.EndTime.Sub(time.Now())
	if remaining <= 0 {
		return 1
	}
	return clamp(1 - float64(remaining)/float64(horizon))
}

func (e *Engine) lookupResolution(ctx context.Context, market string) (storegateway.MarketResolution, bool) {
	ttl := time.Duration(e.cfg.TimeScoreCacheMS) * time.Millisecond
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	e.mu.Lock()
	if c, ok := e.resolutions[market]; ok && time.Since(c.cachedAt) < ttl {
		e.mu.Unlock()
		return c.row, c.found
	}
	e.mu.Unlock()

	var res storegateway.MarketResolution
	found := e.store.DB().WithContext(ctx).Where("market = ?", market).First(&res).Error == nil

	e.mu.Lock()
	e.resolutions[market] = cachedResolution{row: res, found: found, cachedAt: time.Now()}
	e.mu.Unlock()

	return res, found
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
