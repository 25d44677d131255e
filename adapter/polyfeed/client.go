// Package polyfeed implements the primary streaming source adapter
// (§4.4): a gorilla/websocket connection to a Polymarket-shaped CLOB
// venue, with bounded backoff+jitter reconnection, a protobuf keepalive
// and subscribe control channel (adapter/wire), rate-limit detection,
// and subscription replay on every (re)open. Grounded on
// websocket/client.go and websocket/manager.go's connect/ping/reconnect
// shape, generalized from the teacher's single hard-coded venue to any
// instrument set the Subscription Controller hands it.
package polyfeed

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

	"github.com/gorilla/websocket"

	"marketpulse/adapter"
	"marketpulse/adapter/wire"
	"marketpulse/normalize"
)

// Config is the subset of venue tuning a polyfeed client needs.
type Config struct {
	URL             string
	QuoteDivisor    float64
	StaleMS         int
	StaleCheckMS    int
	PingInterval    time.Duration
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
}

// Client is a streaming source adapter over a single underlying socket.
// One Client typically corresponds to one subscription shard (§4.4's
// adaptive fan-out).
type Client struct {
	cfg     Config
	onTrade adapter.TradeHandler
	onTick  adapter.TickHandler

	subs    *adapter.SubscriptionSet
	backoff *adapter.Backoff

	connMu sync.Mutex
	conn   *websocket.Conn

	lastMsgMu sync.Mutex
	lastMsg   time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, onTrade adapter.TradeHandler, onTick adapter.TickHandler) *Client {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Client{
		cfg:     cfg,
		onTrade: onTrade,
		onTick:  onTick,
		subs:    adapter.NewSubscriptionSet(),
		backoff: adapter.NewBackoff(cfg.BaseBackoff, cfg.MaxBackoff),
		done:    make(chan struct{}),
	}
}

func (c *Client) Subscribe(instrument string) {
	if c.subs.Add(instrument) {
		c.sendSubscribe([]string{instrument})
	}
}

// Unsubscribe only drops instrument from the local set: the venue's wire
// protocol has no per-asset unsubscribe frame, so the removal only takes
// effect once the socket reconnects and replays the (now smaller) set --
// see ForceReconnect, which the Subscription Controller calls (debounced)
// whenever the tracked set shrinks.
func (c *Client) Unsubscribe(instrument string) { c.subs.Remove(instrument) }

func (c *Client) Subscribed() []string { return c.subs.Items() }

// ForceReconnect closes the underlying socket so the run loop's backoff
// reconnects and replays the current subscription set from scratch,
// per §4.4's debounced scheduleReconnect rebuild.
func (c *Client) ForceReconnect() { c.closeConn() }

// Start runs the connect/read/reconnect loop until ctx is canceled or
// Stop is called.
func (c *Client) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *Client) Stop() {
	close(c.done)
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	staleMS := c.cfg.StaleMS
	if staleMS == 0 {
		staleMS = 30_000
	}
	staleCheckMS := c.cfg.StaleCheckMS
	if staleCheckMS == 0 {
		staleCheckMS = 10_000
	}

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go adapter.MonitorStale(monitorCtx, time.Duration(staleCheckMS)*time.Millisecond, time.Duration(staleMS)*time.Millisecond,
		c.LastMessageAt, func() {
			log.Println("⚠️  polyfeed: stale connection, forcing reconnect")
			c.closeConn()
		})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if c.backoff.Throttled(time.Now()) {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if err := c.connectAndServe(ctx); err != nil {
			if isRateLimitErr(err) {
				c.backoff.RateLimited(30 * time.Second)
				log.Printf("🚦 polyfeed: rate limited, backing off %v", c.backoff.Current())
			} else {
				log.Printf("⚠️  polyfeed: connection error: %v", err)
			}
		}

		wait := c.backoff.Next()
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(wait):
		}
	}
}

func isRateLimitErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "rate-limited")
}

func (c *Client) connectAndServe(ctx context.Context) error {
	header := http.Header{}
	header.Set("User-Agent", "marketpulse/1.0")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			body := ""
			if resp.Body != nil {
				buf := make([]byte, 512)
				n, _ := resp.Body.Read(buf)
				body = string(buf[:n])
			}
			if adapter.IsRateLimited(resp.StatusCode, body) {
				return fmt.Errorf("rate-limited: %w", err)
			}
		}
		return fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.touch()
	log.Printf("✅ polyfeed connected to %s", c.cfg.URL)
	c.backoff.Reset()

	c.sendSubscribe(c.subs.Items())

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx)

	defer c.closeConn()
	return c.readLoop(conn)
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := wire.Ping(time.Now())
			if err != nil {
				continue
			}
			if err := c.write(frame); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendSubscribe(assets []string) {
	if len(assets) == 0 {
		return
	}
	frame, err := wire.Subscribe(assets)
	if err != nil {
		log.Printf("⚠️  polyfeed: build subscribe frame: %v", err)
		return
	}
	if err := c.write(frame); err != nil {
		log.Printf("⚠️  polyfeed: send subscribe frame: %v", err)
	}
}

func (c *Client) write(data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.touch()
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return // malformed-input: drop, do not halt the pipeline
	}

	eventType, _ := msg["event_type"].(string)
	switch eventType {
	case "last_trade_price", "trade":
		c.handleTrade(msg)
	case "book", "price_change", "tick_size_change":
		c.handleTick(msg)
	}
}

func (c *Client) handleTrade(msg map[string]interface{}) {
	identity := normalize.ExtractMarketIdentity(msg)
	raw := normalize.RawTrade{
		TxHash:       asString(msg["transaction_hash"]),
		Asset:        asString(msg["asset_id"]),
		Market:       asString(msg["market"]),
		OutcomeLabel: firstNonEmpty(asString(msg["outcome"]), identity.OutcomeLabel),
		OutcomeIndex: identity.OutcomeIndex,
		Price:        asFloat(msg["price"]),
		Size:         asFloat(msg["size"]),
		Side:         sideOf(msg["side"]),
		Timestamp:    timestampOf(msg["timestamp"]),
		QuoteDivisor: c.cfg.QuoteDivisor,
		RawPayload:   string(mustJSON(msg)),
	}
	if raw.Market == "" {
		raw.Market = identity.Slug
	}
	if c.onTrade != nil {
		c.onTrade(raw.Normalize())
	}
}

func (c *Client) handleTick(msg map[string]interface{}) {
	bid := asFloatPtr(msg["best_bid"])
	ask := asFloatPtr(msg["best_ask"])
	raw := normalize.RawBook{
		Market:      asString(msg["market"]),
		Asset:       asString(msg["asset_id"]),
		Outcome:     asString(msg["outcome"]),
		BestBid:     bid,
		BestAsk:     ask,
		BestBidSize: asFloatPtr(msg["best_bid_size"]),
		BestAskSize: asFloatPtr(msg["best_ask_size"]),
		Timestamp:   timestampOf(msg["timestamp"]),
	}
	tick, err := raw.Normalize()
	if err != nil {
		return // crossed book / spread too wide: dropped per §4.4
	}
	if c.onTick != nil {
		c.onTick(tick)
	}
}

func (c *Client) touch() {
	c.lastMsgMu.Lock()
	c.lastMsg = time.Now()
	c.lastMsgMu.Unlock()
}

func (c *Client) LastMessageAt() time.Time {
	c.lastMsgMu.Lock()
	defer c.lastMsgMu.Unlock()
	return c.lastMsg
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func asFloat(v interface{}) float64 {
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

func asFloatPtr(v interface{}) *float64 {
	if v == nil {
		return nil
	}
	f := asFloat(v)
	return &f
}

func sideOf(v interface{}) normalize.Side {
	s := strings.ToUpper(asString(v))
	if s == "SELL" {
		return normalize.Sell
	}
	return normalize.Buy
}

func timestampOf(v interface{}) time.Time {
	switch t := v.(type) {
	case float64:
		return millisToTime(int64(t))
	case string:
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return millisToTime(ms)
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}

func millisToTime(ms int64) time.Time {
	if ms > 1_000_000_000_000 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Unix(ms, 0).UTC()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
