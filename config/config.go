// Package config loads every tunable of the ingest-to-signal pipeline
// from the environment, the same getEnvOrDefault/getEnvInt/getEnvFloat
// shape used throughout this codebase.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Venue    VenueConfig
	Buffer   BufferConfig
	Aggregate AggregateConfig
	Movement MovementConfig
	Finalize FinalizeConfig
	Signal   SignalConfig
	News     NewsConfig
	Logging  LoggingConfig
	Stream   StreamConfig
}

// StreamConfig tunes the live stream endpoint (§4.12).
type StreamConfig struct {
	HeartbeatMS      int
	PollMS           int
	InitialBurst     int
	StaleThreshold   int
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// VenueConfig holds source-adapter endpoints and fan-out tuning (§6, §4.4).
type VenueConfig struct {
	PolymarketWSURL             string
	PolymarketEventSlugs        []string
	PolymarketMarketMetadataURL string
	PolymarketTradesBackfillURL string

	WSStaleMS      int
	WSStaleCheckMS int

	MaxCLOBAssets      int
	MaxAssetsPerMarket int

	MoverWindowMS  int
	MoverRefreshMS int

	DominantOutcomeTTLMS int

	BackfillIntervalMS     int
	BackfillLookbackMS     int
	BackfillSilenceMS      int
	MaxBackfillTradesPerSlug int

	MinRequestGapMS int
}

type BufferConfig struct {
	TradeBufferMax     int
	TradeBufferFlushMS int
	TradeDedupeTTLMS   int

	InsertFailWindowMS  int
	InsertFailThreshold int
	SpoolPath           string
	SpoolReplayMS       int
}

type AggregateConfig struct {
	FlushMS    int
	MinFlushMS int
	MaxFlushMS int
	MaxTrades  int
}

// MovementConfig bundles both the real-time detector tuning and the
// per-window thresholds used by the windowed/event detectors.
type MovementConfig struct {
	MinMS   int
	MinStep float64

	VelocityThreshold  float64
	MinPriceForAlert   float64

	Windows map[string]WindowThresholds

	EventMinChildMarkets int

	RT RealtimeTuning
}

// WindowThresholds is per-window (5m/15m/1h/4h/event) tuning.
type WindowThresholds struct {
	DurationMS     int64
	PriceThreshold float64
	ThinThreshold  float64
	MinAbsMove     float64
	VolumeThreshold float64
	IDBucketDivisor int64
	SettleDelayMS   int64
}

type RealtimeTuning struct {
	EMAFastSec   int
	EMASlowSec   int
	MaxSpreadPct float64
	MinTopSize   float64
	PersistTicks int
	PersistMS    int
	EventCooldownMS   int
	EMAGapPct         float64
	EMAMinPct         float64
	EMAConfirmTicks   int
	EMADirCooldownMS  int
	TradeConfirmMS    int
	EvictIdleMS       int
	BreakoutPct       float64
}

type FinalizeConfig struct {
	PollMS    int
	BatchSize int
}

type SignalConfig struct {
	MinConfidence         float64
	LiquidityOverride     float64
	MinInfoTrades         int
	MinInfoLevels         int
	TimeScoreHorizonHours float64
	TimeScoreCacheMS      int
}

type NewsConfig struct {
	APIKey  string
	BaseURL string

	LLMEnabled  bool
	LLMEndpoint string
	LLMAPIKey   string
	LLMModel    string
}

type LoggingConfig struct {
	LogFile         string
	TradeGrouped    bool
	TradeLogGroupMS int
	LogMid          bool
	LogRetry        bool
	LogEventSlugs   bool
	LogTradeDebug   bool
}

// LoadFromEnv loads the .env file if present, then resolves every field
// from the environment with the defaults named in the spec.
func LoadFromEnv() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	windows := map[string]WindowThresholds{
		"5m":  {DurationMS: 5 * 60 * 1000, PriceThreshold: getEnvFloat("MOVEMENT_5M_PRICE_THRESHOLD", 0.06), ThinThreshold: getEnvFloat("MOVEMENT_5M_THIN_THRESHOLD", 0.15), MinAbsMove: getEnvFloat("MOVEMENT_5M_MIN_ABS", 0.02), VolumeThreshold: getEnvFloat("MOVEMENT_5M_VOLUME_THRESHOLD", 2.0), IDBucketDivisor: int64(30 * 60 * 1000), SettleDelayMS: int64(2 * 60 * 1000)},
		"15m": {DurationMS: 15 * 60 * 1000, PriceThreshold: getEnvFloat("MOVEMENT_15M_PRICE_THRESHOLD", 0.08), ThinThreshold: getEnvFloat("MOVEMENT_15M_THIN_THRESHOLD", 0.18), MinAbsMove: getEnvFloat("MOVEMENT_15M_MIN_ABS", 0.03), VolumeThreshold: getEnvFloat("MOVEMENT_15M_VOLUME_THRESHOLD", 2.2), IDBucketDivisor: int64(60 * 60 * 1000), SettleDelayMS: int64(5 * 60 * 1000)},
		"1h":  {DurationMS: 60 * 60 * 1000, PriceThreshold: getEnvFloat("MOVEMENT_1H_PRICE_THRESHOLD", 0.10), ThinThreshold: getEnvFloat("MOVEMENT_1H_THIN_THRESHOLD", 0.20), MinAbsMove: getEnvFloat("MOVEMENT_1H_MIN_ABS", 0.04), VolumeThreshold: getEnvFloat("MOVEMENT_1H_VOLUME_THRESHOLD", 2.5), IDBucketDivisor: int64(4 * 60 * 60 * 1000), SettleDelayMS: int64(15 * 60 * 1000)},
		"4h":  {DurationMS: 4 * 60 * 60 * 1000, PriceThreshold: getEnvFloat("MOVEMENT_4H_PRICE_THRESHOLD", 0.14), ThinThreshold: getEnvFloat("MOVEMENT_4H_THIN_THRESHOLD", 0.25), MinAbsMove: getEnvFloat("MOVEMENT_4H_MIN_ABS", 0.05), VolumeThreshold: getEnvFloat("MOVEMENT_4H_VOLUME_THRESHOLD", 3.0), IDBucketDivisor: int64(12 * 60 * 60 * 1000), SettleDelayMS: int64(60 * 60 * 1000)},
		"event": {DurationMS: 60 * 60 * 1000, PriceThreshold: getEnvFloat("MOVEMENT_EVENT_PRICE_THRESHOLD", 0.09), ThinThreshold: getEnvFloat("MOVEMENT_EVENT_THIN_THRESHOLD", 0.20), MinAbsMove: getEnvFloat("MOVEMENT_EVENT_MIN_ABS", 0.03), VolumeThreshold: getEnvFloat("MOVEMENT_EVENT_VOLUME_THRESHOLD", 2.0), IDBucketDivisor: int64(30 * 60 * 1000), SettleDelayMS: int64(2 * 60 * 1000)},
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			Name:     getEnvOrDefault("DB_NAME", "marketpulse"),
			User:     getEnvOrDefault("DB_USER", "marketpulse"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
		},
		Venue: VenueConfig{
			PolymarketWSURL:             getEnvOrDefault("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
			PolymarketEventSlugs:        getEnvList("POLYMARKET_EVENT_SLUGS"),
			PolymarketMarketMetadataURL: os.Getenv("POLYMARKET_MARKET_METADATA_URL"),
			PolymarketTradesBackfillURL: os.Getenv("POLYMARKET_TRADES_BACKFILL_URL"),

			WSStaleMS:      getEnvInt("WS_STALE_MS", 30_000),
			WSStaleCheckMS: getEnvInt("WS_STALE_CHECK_MS", 10_000),

			MaxCLOBAssets:      getEnvInt("MAX_CLOB_ASSETS", 100),
			MaxAssetsPerMarket: getEnvInt("MAX_ASSETS_PER_MARKET", 4),

			MoverWindowMS:  getEnvInt("MOVER_WINDOW_MS", 10*60*1000),
			MoverRefreshMS: getEnvInt("MOVER_REFRESH_MS", 15_000),

			DominantOutcomeTTLMS: getEnvInt("DOMINANT_OUTCOME_TTL_MS", 5*60*1000),

			BackfillIntervalMS:       getEnvInt("BACKFILL_INTERVAL_MS", 60_000),
			BackfillLookbackMS:       getEnvInt("BACKFILL_LOOKBACK_MS", 10*60*1000),
			BackfillSilenceMS:        getEnvInt("BACKFILL_SILENCE_MS", 30_000),
			MaxBackfillTradesPerSlug: getEnvInt("MAX_BACKFILL_TRADES_PER_SLUG", 500),

			MinRequestGapMS: getEnvInt("MIN_REQUEST_GAP_MS", 1500),
		},
		Buffer: BufferConfig{
			TradeBufferMax:     getEnvInt("TRADE_BUFFER_MAX", 200),
			TradeBufferFlushMS: getEnvInt("TRADE_BUFFER_FLUSH_MS", 1000),
			TradeDedupeTTLMS:   getEnvInt("TRADE_DEDUPE_TTL_MS", 10*60*1000),

			InsertFailWindowMS:  getEnvInt("INSERT_FAIL_WINDOW_MS", 60_000),
			InsertFailThreshold: getEnvInt("INSERT_FAIL_THRESHOLD", 3),
			SpoolPath:           getEnvOrDefault("SPOOL_PATH", "./spool/trades.jsonl"),
			SpoolReplayMS:       getEnvInt("SPOOL_REPLAY_MS", 15_000),
		},
		Aggregate: AggregateConfig{
			FlushMS:    getEnvInt("AGGREGATE_FLUSH_MS", 5000),
			MinFlushMS: getEnvInt("AGGREGATE_MIN_FLUSH_MS", 1000),
			MaxFlushMS: getEnvInt("AGGREGATE_MAX_FLUSH_MS", 15_000),
			MaxTrades:  getEnvInt("AGGREGATE_MAX_TRADES", 50),
		},
		Movement: MovementConfig{
			MinMS:             getEnvInt("MOVEMENT_MIN_MS", 200),
			MinStep:           getEnvFloat("MOVEMENT_MIN_STEP", 0.002),
			VelocityThreshold: getEnvFloat("MOVEMENT_VELOCITY_THRESHOLD", 0.02),
			MinPriceForAlert:  getEnvFloat("MOVEMENT_MIN_PRICE_FOR_ALERT", 0.02),
			Windows:           windows,
			EventMinChildMarkets: getEnvInt("EVENT_MIN_CHILD_MARKETS", 2),
			RT: RealtimeTuning{
				EMAFastSec:       getEnvInt("MOVEMENT_RT_EMA_FAST_SEC", 60),
				EMASlowSec:       getEnvInt("MOVEMENT_RT_EMA_SLOW_SEC", 300),
				MaxSpreadPct:     getEnvFloat("MOVEMENT_RT_MAX_SPREAD_PCT", 0.30),
				MinTopSize:       getEnvFloat("MOVEMENT_RT_MIN_TOP_SIZE", 5),
				PersistTicks:     getEnvInt("MOVEMENT_RT_PERSIST_TICKS", 3),
				PersistMS:        getEnvInt("MOVEMENT_RT_PERSIST_MS", 2000),
				EventCooldownMS:  getEnvInt("MOVEMENT_RT_EVENT_COOLDOWN_MS", 60_000),
				EMAGapPct:        getEnvFloat("MOVEMENT_RT_EMA_GAP_PCT", 0.01),
				EMAMinPct:        getEnvFloat("MOVEMENT_RT_EMA_MIN_PCT", 0.01),
				EMAConfirmTicks:  getEnvInt("MOVEMENT_RT_EMA_CONFIRM_TICKS", 3),
				EMADirCooldownMS: getEnvInt("MOVEMENT_RT_EMA_DIR_COOLDOWN_MS", 120_000),
				TradeConfirmMS:   getEnvInt("MOVEMENT_RT_TRADE_CONFIRM_MS", 60_000),
				EvictIdleMS:      getEnvInt("MOVEMENT_RT_EVICT_IDLE_MS", 30*60*1000),
				BreakoutPct:      getEnvFloat("MOVEMENT_RT_BREAKOUT_PCT", 0.03),
			},
		},
		Finalize: FinalizeConfig{
			PollMS:    getEnvInt("FINALIZE_POLL_MS", 30_000),
			BatchSize: getEnvInt("FINALIZE_BATCH_SIZE", 10),
		},
		Signal: SignalConfig{
			MinConfidence:         getEnvFloat("SIGNAL_MIN_CONFIDENCE", 0.25),
			LiquidityOverride:     getEnvFloat("LIQUIDITY_OVERRIDE", 0.75),
			MinInfoTrades:         getEnvInt("MIN_INFO_TRADES", 50),
			MinInfoLevels:         getEnvInt("MIN_INFO_LEVELS", 8),
			TimeScoreHorizonHours: getEnvFloat("TIME_SCORE_HORIZON_HOURS", 48),
			TimeScoreCacheMS:      getEnvInt("TIME_SCORE_CACHE_MS", 60_000),
		},
		News: NewsConfig{
			APIKey:  os.Getenv("NEWSAPI_KEY"),
			BaseURL: getEnvOrDefault("NEWSAPI_BASE_URL", "https://newsapi.org/v2"),

			LLMEnabled:  getEnvOrDefault("LLM_ENABLED", "false") == "true",
			LLMEndpoint: getEnvOrDefault("LLM_ENDPOINT", "https://api.openai.com/v1"),
			LLMAPIKey:   os.Getenv("LLM_API_KEY"),
			LLMModel:    getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		},
		Stream: StreamConfig{
			HeartbeatMS:    getEnvInt("STREAM_HEARTBEAT_MS", 15_000),
			PollMS:         getEnvInt("STREAM_POLL_MS", 1_000),
			InitialBurst:   getEnvInt("STREAM_INITIAL_BURST", 500),
			StaleThreshold: getEnvInt("STREAM_STALE_THRESHOLD", 10),
		},
		Logging: LoggingConfig{
			LogFile:         os.Getenv("LOG_FILE"),
			TradeGrouped:    getEnvOrDefault("LOG_TRADE_GROUPED", "false") == "true",
			TradeLogGroupMS: getEnvInt("TRADE_LOG_GROUP_MS", 5000),
			LogMid:          getEnvOrDefault("LOG_MID", "false") == "true",
			LogRetry:        getEnvOrDefault("LOG_RETRY", "true") == "true",
			LogEventSlugs:   getEnvOrDefault("LOG_EVENT_SLUGS", "false") == "true",
			LogTradeDebug:   getEnvOrDefault("LOG_TRADE_DEBUG", "false") == "true",
		},
	}
}

// WindowDuration returns the configured duration for a window type as a
// time.Duration, defaulting to the 5m window's duration if unknown.
func (c *MovementConfig) WindowDuration(windowType string) time.Duration {
	if w, ok := c.Windows[windowType]; ok {
		return time.Duration(w.DurationMS) * time.Millisecond
	}
	return 5 * time.Minute
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
