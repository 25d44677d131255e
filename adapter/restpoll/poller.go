// Package restpoll implements the polling source-adapter family (§4.4):
// a single sequential request queue honoring a minimum inter-request gap,
// round-robin orderbook polling across the subscription set, and
// monotone-cursor trade polling. Built on
// github.com/hashicorp/go-retryablehttp (wired from NimbleMarkets-dbn-go)
// in place of the ad-hoc retry loops a hand-rolled *http.Client would
// need for the same resilience.
package restpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"marketpulse/adapter"
	"marketpulse/normalize"
)

// Config is the subset of venue tuning a REST poller needs.
type Config struct {
	OrderbookURL    string // ?asset_id={id} appended
	TradesURL       string // ?after={cursor} appended
	QuoteDivisor    float64
	MinRequestGapMS int
}

// Poller is a single polling source adapter: one goroutine alternates
// between an orderbook round-robin cycle and a trade-cursor poll,
// honoring MinRequestGapMS between any two outbound requests.
type Poller struct {
	cfg     Config
	onTrade adapter.TradeHandler
	onTick  adapter.TickHandler

	subs   *adapter.SubscriptionSet
	client *retryablehttp.Client

	lastTradeID string

	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, onTrade adapter.TradeHandler, onTick adapter.TickHandler) *Poller {
	if cfg.MinRequestGapMS <= 0 {
		cfg.MinRequestGapMS = 1500
	}
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 3
	client.HTTPClient.Timeout = 10 * time.Second

	return &Poller{
		cfg:    cfg,
		onTrade: onTrade,
		onTick:  onTick,
		subs:   adapter.NewSubscriptionSet(),
		client: client,
		done:   make(chan struct{}),
	}
}

func (p *Poller) Subscribe(instrument string)   { p.subs.Add(instrument) }
func (p *Poller) Unsubscribe(instrument string) { p.subs.Remove(instrument) }
func (p *Poller) Subscribed() []string          { return p.subs.Items() }

func (p *Poller) Start(ctx context.Context) error {
	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

func (p *Poller) Stop() {
	close(p.done)
	p.wg.Wait()
}

// run is the single sequential request queue: exactly one outbound
// request per MinRequestGapMS tick. A trade-cursor poll opens each full
// cycle, followed by one orderbook poll per tick, round robin across the
// subscription set.
func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	gap := time.Duration(p.cfg.MinRequestGapMS) * time.Millisecond
	ticker := time.NewTicker(gap)
	defer ticker.Stop()

	cursor := 0
	tradeTurn := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
		}

		assets := p.subs.Items()
		pollBooks := p.cfg.OrderbookURL != "" && len(assets) > 0
		if p.cfg.TradesURL != "" && (tradeTurn || !pollBooks) {
			tradeTurn = false
			p.pollTrades(ctx)
			continue
		}
		if !pollBooks {
			continue
		}
		p.pollOrderbook(ctx, assets[cursor%len(assets)])
		cursor++
		tradeTurn = cursor%len(assets) == 0
	}
}

func (p *Poller) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	if resp.StatusCode == 429 || adapter.IsRateLimited(resp.StatusCode, string(buf)) {
		return buf, resp.StatusCode, fmt.Errorf("rate-limited")
	}
	return buf, resp.StatusCode, nil
}

func (p *Poller) pollOrderbook(ctx context.Context, asset string) {
	url := fmt.Sprintf("%s?asset_id=%s", p.cfg.OrderbookURL, asset)
	body, _, err := p.get(ctx, url)
	if err != nil {
		log.Printf("⚠️  restpoll: orderbook poll failed for %s: %v", asset, err)
		return
	}

	var snap struct {
		Market      string      `json:"market"`
		Outcome     string      `json:"outcome"`
		BestBid     interface{} `json:"best_bid"`
		BestAsk     interface{} `json:"best_ask"`
		BestBidSize interface{} `json:"best_bid_size"`
		BestAskSize interface{} `json:"best_ask_size"`
		Timestamp   interface{} `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return
	}

	raw := normalize.RawBook{
		Market:      snap.Market,
		Asset:       asset,
		Outcome:     snap.Outcome,
		BestBid:     toFloatPtr(snap.BestBid),
		BestAsk:     toFloatPtr(snap.BestAsk),
		BestBidSize: toFloatPtr(snap.BestBidSize),
		BestAskSize: toFloatPtr(snap.BestAskSize),
		Timestamp:   toTimestamp(snap.Timestamp),
	}
	tick, err := raw.Normalize()
	if err != nil {
		return
	}
	if p.onTick != nil {
		p.onTick(tick)
	}
}

// pollTrades uses a monotone cursor on trade id, delivering only ids
// strictly greater than the last one seen (§4.4).
func (p *Poller) pollTrades(ctx context.Context) {
	url := p.cfg.TradesURL
	if p.lastTradeID != "" {
		url = fmt.Sprintf("%s?after=%s", url, p.lastTradeID)
	}
	body, _, err := p.get(ctx, url)
	if err != nil {
		log.Printf("⚠️  restpoll: trade poll failed: %v", err)
		return
	}

	var trades []struct {
		ID           string      `json:"id"`
		TxHash       string      `json:"transaction_hash"`
		Asset        string      `json:"asset_id"`
		Market       string      `json:"market"`
		Outcome      string      `json:"outcome"`
		OutcomeIndex int         `json:"outcome_index"`
		Price        interface{} `json:"price"`
		Size         interface{} `json:"size"`
		Side         string      `json:"side"`
		Timestamp    interface{} `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &trades); err != nil {
		return
	}

	for _, t := range trades {
		if p.lastTradeID != "" && t.ID != "" {
			cur, errCur := strconv.ParseInt(t.ID, 10, 64)
			last, errLast := strconv.ParseInt(p.lastTradeID, 10, 64)
			numeric := errCur == nil && errLast == nil
			if (numeric && cur <= last) || (!numeric && t.ID <= p.lastTradeID) {
				continue
			}
		}
		raw := normalize.RawTrade{
			TxHash:       t.TxHash,
			Asset:        t.Asset,
			Market:       t.Market,
			OutcomeLabel: t.Outcome,
			OutcomeIndex: t.OutcomeIndex,
			Price:        toFloat(t.Price),
			Size:         toFloat(t.Size),
			Side:         sideFrom(t.Side),
			Timestamp:    toTimestamp(t.Timestamp),
			QuoteDivisor: p.cfg.QuoteDivisor,
		}
		if p.onTrade != nil {
			p.onTrade(raw.Normalize())
		}
		if t.ID != "" {
			p.lastTradeID = t.ID
		}
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func toFloatPtr(v interface{}) *float64 {
	if v == nil {
		return nil
	}
	f := toFloat(v)
	return &f
}

func toTimestamp(v interface{}) time.Time {
	switch t := v.(type) {
	case float64:
		ms := int64(t)
		if ms > 1_000_000_000_000 {
			return time.UnixMilli(ms).UTC()
		}
		return time.Unix(ms, 0).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}

func sideFrom(s string) normalize.Side {
	if strings.EqualFold(s, "sell") {
		return normalize.Sell
	}
	return normalize.Buy
}
