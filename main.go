package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"marketpulse/adapter"
	"marketpulse/adapter/polyfeed"
	"marketpulse/adapter/restpoll"
	"marketpulse/aggregate"
	"marketpulse/api"
	"marketpulse/cache"
	"marketpulse/config"
	"marketpulse/finalize"
	"marketpulse/livestream"
	"marketpulse/midtick"
	"marketpulse/movement/event"
	"marketpulse/movement/realtime"
	"marketpulse/movement/windowed"
	"marketpulse/news"
	"marketpulse/normalize"
	signalengine "marketpulse/signal"
	"marketpulse/storegateway"
	"marketpulse/subscription"
	"marketpulse/tradebuffer"
)

// quoteDivisor is the venue's integer-price scale (cents); not
// per-instrument in this venue, so it's a single constant rather than a
// config field.
const quoteDivisor = 100

func main() {
	cfg := config.LoadFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("🗄️  Connecting to database...")
	store, err := storegateway.Connect(storegateway.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		DBName:   cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
	})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := store.AutoMigrate(); err != nil {
		log.Fatalf("schema migration failed: %v", err)
	}
	log.Println("✅ Database connected and migrated")

	log.Println("🧠 Connecting to Redis...")
	redisClient := cache.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
	if redisClient == nil {
		log.Println("⚠️  Redis connection failed, dominant-outcome caching disabled")
	}

	subCtrl := subscription.New(cfg.Venue, redisClient)
	buffer := tradebuffer.New(cfg.Buffer, store)
	aggEngine := aggregate.New(cfg.Aggregate, store)
	midWriter := midtick.New(store)

	rtDetector := realtime.New(cfg.Movement.MinMS, cfg.Movement.MinStep, cfg.Movement.RT, func(ev realtime.Event) {
		row := storegateway.RealtimeEvent{
			ID:        fmt.Sprintf("%s:%s:%d", ev.Asset, ev.Kind, ev.Timestamp.UnixNano()),
			Asset:     ev.Asset,
			Market:    ev.Market,
			Kind:      string(ev.Kind),
			Price:     ev.Price,
			Timestamp: ev.Timestamp,
		}
		if err := store.Insert(ctx, &row); err != nil {
			log.Printf("⚠️  failed to persist realtime event: %v", err)
		}
	})
	windowedDetector := windowed.New(cfg.Movement, store)
	eventRegistry := event.NewRegistry()
	eventDetector := event.New(cfg.Movement, store, eventRegistry)

	newsProvider := news.NewProvider(cfg.News.BaseURL, cfg.News.APIKey)
	var llmClient *news.LLMClient
	if cfg.News.LLMEnabled {
		llmClient = news.NewLLMClient(cfg.News.LLMEndpoint, cfg.News.LLMAPIKey, cfg.News.LLMModel)
		log.Printf("✅ News LLM fallback ENABLED (model: %s)", cfg.News.LLMModel)
	} else {
		log.Println("ℹ️  News LLM fallback DISABLED")
	}
	newsEngine := news.New(store, newsProvider, llmClient)
	signalEngine := signalengine.New(cfg.Signal, store, newsEngine)
	finalizeWorker := finalize.New(cfg.Finalize, store, signalEngine)

	buffer.Start(ctx)
	aggEngine.Start(ctx)
	go finalizeWorker.Start(ctx)

	onTrade := func(t normalize.Trade) {
		buffer.Submit(t)
		aggEngine.Submit(t)
		subCtrl.RecordTrade(t.Market, t.OutcomeLabel, t.Price, t.Size, t.Timestamp)
		rtDetector.RecordTrade(t.Market, t.Timestamp)
		windowedDetector.OnTrade(ctx, t)

		if eventSlug := eventSlugFromPayload(t.RawPayload); eventSlug != "" {
			eventDetector.OnTrade(ctx, eventSlug, t.Market, t.OutcomeLabel, t.Timestamp)
		}
	}
	onTick := func(t normalize.Tick) {
		midWriter.Write(ctx, t)
		rtDetector.OnTick(t, t.Market)
	}

	primary := polyfeed.New(polyfeed.Config{
		URL:          cfg.Venue.PolymarketWSURL,
		QuoteDivisor: quoteDivisor,
		StaleMS:      cfg.Venue.WSStaleMS,
		StaleCheckMS: cfg.Venue.WSStaleCheckMS,
	}, onTrade, onTick)

	for _, slug := range cfg.Venue.PolymarketEventSlugs {
		primary.Subscribe(slug)
	}

	var backfill *restpoll.Poller
	if cfg.Venue.PolymarketTradesBackfillURL != "" {
		backfill = restpoll.New(restpoll.Config{
			OrderbookURL:    cfg.Venue.PolymarketMarketMetadataURL,
			TradesURL:       cfg.Venue.PolymarketTradesBackfillURL,
			QuoteDivisor:    quoteDivisor,
			MinRequestGapMS: cfg.Venue.MinRequestGapMS,
		}, onTrade, onTick)
		for _, slug := range cfg.Venue.PolymarketEventSlugs {
			backfill.Subscribe(slug)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := primary.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("⚠️  primary adapter stopped: %v", err)
		}
	}()
	if backfill != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := backfill.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("⚠️  backfill poller stopped: %v", err)
			}
		}()
	}

	go adapter.MonitorStale(ctx, time.Duration(cfg.Venue.WSStaleCheckMS)*time.Millisecond,
		time.Duration(cfg.Venue.WSStaleMS)*time.Millisecond,
		primary.LastMessageAt,
		func() { log.Println("⚠️  primary adapter stale beyond the outer threshold") })

	go runSubscriptionLoop(ctx, cfg.Venue, subCtrl, primary)

	streamHandler := livestream.NewHandler(store, subCtrl, cfg.Stream)
	trackHandler := livestream.NewTrackHandler(store)
	apiServer := api.NewServer(store, streamHandler, trackHandler)

	go func() {
		if err := apiServer.Start(cfg.Server.Port); err != nil {
			log.Printf("⚠️  API server stopped: %v", err)
		}
	}()

	log.Println("🚀 marketpulse running")
	awaitShutdown(cancel, primary, backfill)
	wg.Wait()
}

// eventSlugFromPayload extracts the logical event slug a trade's raw
// payload identifies, the same helper adapters use to recover identity
// fields the wire format doesn't carry as dedicated columns.
func eventSlugFromPayload(raw string) string {
	var payload map[string]interface{}
	if raw == "" || json.Unmarshal([]byte(raw), &payload) != nil {
		return ""
	}
	return normalize.ExtractMarketIdentity(payload).Slug
}

// runSubscriptionLoop recomputes the tracked instrument set every
// MoverRefreshMS from the Subscription Controller's mover stats (§4.4
// "Subscription selection") and diffs it against what the primary adapter
// is currently subscribed to.
func runSubscriptionLoop(ctx context.Context, cfg config.VenueConfig, subCtrl *subscription.Controller, primary *polyfeed.Client) {
	interval := time.Duration(cfg.MoverRefreshMS) * time.Millisecond
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recomputeSubscriptions(cfg, subCtrl, primary)
		}
	}
}

// recomputeSubscriptions builds the desired market set from which known
// markets still have top-mover activity, diffs it against the adapter's
// current subscription set, and applies the difference. Additions take
// effect immediately (the venue's subscribe frame is additive); removals
// only take effect once the socket reconnects and replays the smaller set
// (polyfeed.Client.Unsubscribe), so a shrinking set schedules a debounced
// reconnect through the Subscription Controller (§4.4's "adaptive
// fan-out").
func recomputeSubscriptions(cfg config.VenueConfig, subCtrl *subscription.Controller, primary *polyfeed.Client) {
	// The wire subscribe frame (adapter/wire.Subscribe) and the startup
	// subscriptions in main() both key on the bare market/event slug, not
	// a per-outcome asset id (normalize.Trade carries no such id -- see
	// DESIGN.md). subCtrl.Markets() only reports markets that have traded
	// at least once (subCtrl.RecordTrade is what creates a history entry),
	// so a startup-configured market that hasn't traded yet has no
	// history and must NOT be treated as "no longer a mover" -- only a
	// market this loop has actual history for, and whose TopMovers came
	// back empty, is a real drop candidate.
	known := make(map[string]struct{})
	mover := make(map[string]struct{})
	for _, market := range subCtrl.Markets() {
		known[market] = struct{}{}
		if len(subCtrl.TopMovers(market)) > 0 {
			mover[market] = struct{}{}
		}
	}

	current := primary.Subscribed()
	currentSet := make(map[string]struct{}, len(current))
	for _, instrument := range current {
		currentSet[instrument] = struct{}{}
	}

	var removed, added []string
	for _, instrument := range current {
		if _, isKnown := known[instrument]; !isKnown {
			continue
		}
		if _, isMover := mover[instrument]; !isMover {
			primary.Unsubscribe(instrument)
			removed = append(removed, instrument)
		}
	}
	for instrument := range mover {
		if _, ok := currentSet[instrument]; !ok {
			added = append(added, instrument)
		}
	}

	if len(added) > 0 {
		for _, shard := range subscription.Shard(added, cfg.MaxCLOBAssets) {
			for _, instrument := range shard {
				primary.Subscribe(instrument)
			}
		}
	}

	if len(removed) > 0 || len(added) > 0 {
		subCtrl.ScheduleReconnect(func() {
			log.Printf("🔁 subscription set changed (+%d/-%d), forcing primary reconnect", len(added), len(removed))
			primary.ForceReconnect()
		})
	}
}

func awaitShutdown(cancel context.CancelFunc, primary *polyfeed.Client, backfill *restpoll.Poller) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Println("🛑 shutdown signal received")
	cancel()
	primary.Stop()
	if backfill != nil {
		backfill.Stop()
	}
}
