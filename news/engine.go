package news

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"marketpulse/normalize"
	"marketpulse/storegateway"
)

// Engine implements §4.11 end to end and satisfies the Signal Scorer's
// NewsScorer interface.
type Engine struct {
	store    *storegateway.Store
	provider *Provider
	llm      *LLMClient

	entities *entityCache
	keywords *entityCache
}

func New(store *storegateway.Store, provider *Provider, llm *LLMClient) *Engine {
	return &Engine{store: store, provider: provider, llm: llm, entities: newEntityCache(), keywords: newEntityCache()}
}

// Score resolves the movement's market to a title/slug, derives an
// entity context, fetches or reuses cached articles, and returns the
// aggregate relevance score plus the top headline for the explanation
// template.
func (e *Engine) Score(ctx context.Context, m storegateway.Movement) (float64, string, error) {
	slug, title, err := e.resolveIdentity(ctx, m.Market)
	if err != nil {
		return 0, "", err
	}

	entity := deriveEntityContext(ctx, e.llm, e.entities, title, slug)
	windowType := m.WindowType
	lb := lookback(windowType)

	cacheSlug, bucket := cacheKey(entity, windowType, m.WindowEnd)
	if cached, ok := readCache(ctx, e.store, cacheSlug, bucket); ok {
		return aggregateScore(cached), topHeadline(cached), nil
	}

	query := buildQuery(ctx, e.llm, e.keywords, title, entity)

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	from := m.WindowEnd.Add(-lb)
	raw, err := e.provider.Query(queryCtx, query, from, m.WindowEnd)
	if err != nil {
		log.Printf("⚠️  news: provider query failed for %s, degrading to empty: %v", m.ID, err)
		raw = nil
	}

	keywordSet := keywordsFromTitle(title)
	var articles []Article
	for _, a := range raw {
		if !filterArticle(a, entity) {
			continue
		}
		articles = append(articles, scoreArticle(a, entity, keywordSet, m.WindowEnd, lb))
	}

	if err := writeCache(ctx, e.store, cacheSlug, bucket, query, articles); err != nil {
		log.Printf("⚠️  news: cache write failed for %s: %v", cacheSlug, err)
	}

	return aggregateScore(articles), topHeadline(articles), nil
}

func topHeadline(articles []Article) string {
	best := ""
	bestScore := -1.0
	for _, a := range articles {
		if a.Relevance > bestScore {
			best, bestScore = a.Title, a.Relevance
		}
	}
	return best
}

// resolveIdentity implements §4.11 step 1: the newest trade for the
// market carries the slug/title identity every adapter stamps onto its
// raw payload.
func (e *Engine) resolveIdentity(ctx context.Context, market string) (slug, title string, err error) {
	var trade storegateway.Trade
	if dbErr := e.store.DB().WithContext(ctx).Where("market = ?", market).Order("timestamp desc").First(&trade).Error; dbErr != nil {
		return "", "", fmt.Errorf("news: no trade found for market %s: %w", market, dbErr)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(trade.RawPayload), &payload); err != nil {
		return market, market, nil
	}
	identity := normalize.ExtractMarketIdentity(payload)
	if identity.Slug == "" {
		identity.Slug = market
	}
	if identity.Title == "" {
		identity.Title = identity.Slug
	}
	return identity.Slug, identity.Title, nil
}
