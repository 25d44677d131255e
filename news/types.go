// Package news implements the News Relevance Engine (§4.11): derives an
// entity context for a market, fetches and scores candidate articles,
// and caches the result. Grounded on the teacher's llm/client.go (an
// OpenAI-compatible client with hourly caching and hard timeouts) for
// the LLM fallback steps, and on database/ caching conventions for the
// news cache table.
package news

import "time"

// Article is a single candidate news item, already filtered for
// relevance to an entity context.
type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Relevance   float64   `json:"relevance"`
}

// EntityContext is the {entity, category, terms} tuple a market's
// title/slug resolves to, either from the regex vocabularies or the
// LLM fallback.
type EntityContext struct {
	CanonicalEntity string
	Category        string
	Terms           []string
}

// lookbackByWindow implements §4.11 step 3's window->lookback table.
var lookbackByWindow = map[string]time.Duration{
	"5m": time.Hour, "15m": 4 * time.Hour, "1h": 12 * time.Hour,
	"4h": 48 * time.Hour, "event": 24 * time.Hour,
}

// bucketMsByWindow implements the cache-bucket granularity per window.
var bucketMsByWindow = map[string]int64{
	"5m": 15 * 60 * 1000, "15m": 30 * 60 * 1000, "1h": 60 * 60 * 1000,
	"4h": 2 * 60 * 60 * 1000, "event": 60 * 60 * 1000,
}

func lookback(windowType string) time.Duration {
	if d, ok := lookbackByWindow[windowType]; ok {
		return d
	}
	return 24 * time.Hour
}

func bucketMs(windowType string) int64 {
	if b, ok := bucketMsByWindow[windowType]; ok {
		return b
	}
	return 60 * 60 * 1000
}
