package news

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

// vocabulary pairs a category with the regex that recognizes it in a
// market's title+slug. Checked in this fixed priority order, per
// §4.11 step 2.
type vocabEntry struct {
	category string
	pattern  *regexp.Regexp
}

var vocabulary = []vocabEntry{
	{"crypto", regexp.MustCompile(`(?i)\b(bitcoin|btc|ethereum|eth|crypto|solana|sol|defi|stablecoin)\b`)},
	{"macro", regexp.MustCompile(`(?i)\b(fed|fomc|inflation|cpi|interest rate|gdp|recession|unemployment)\b`)},
	{"elections", regexp.MustCompile(`(?i)\b(election|president|senate|congress|governor|primary|ballot|poll(s|ing)?)\b`)},
	{"geopolitics", regexp.MustCompile(`(?i)\b(war|ceasefire|invasion|sanctions|nato|treaty|coup)\b`)},
	{"sports", regexp.MustCompile(`(?i)\b(nba|nfl|mlb|nhl|championship|super bowl|world cup|finals|playoffs)\b`)},
	{"entertainment", regexp.MustCompile(`(?i)\b(oscar|grammy|box office|album|movie|premiere|emmy)\b`)},
}

// entityCache memoizes the LLM fallback by title, matching the
// teacher's hourly-cache pattern for LLM calls.
type entityCache struct {
	mu      sync.Mutex
	entries map[string]entityCacheEntry
}

type entityCacheEntry struct {
	ctx      EntityContext
	cachedAt time.Time
}

func newEntityCache() *entityCache { return &entityCache{entries: make(map[string]entityCacheEntry)} }

func (c *entityCache) get(title string) (EntityContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[title]
	if !ok || time.Since(e.cachedAt) > time.Hour {
		return EntityContext{}, false
	}
	return e.ctx, true
}

func (c *entityCache) set(title string, ctx EntityContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[title] = entityCacheEntry{ctx: ctx, cachedAt: time.Now()}
}

// deriveEntityContext implements §4.11 step 2: a deterministic regex
// match first, falling back to the LLM only when nothing in the fixed
// vocabulary matches.
func deriveEntityContext(ctx context.Context, llm *LLMClient, cache *entityCache, title, slug string) EntityContext {
	haystack := title + " " + slug
	for _, v := range vocabulary {
		if v.pattern.MatchString(haystack) {
			return EntityContext{CanonicalEntity: primaryTerm(title), Category: v.category, Terms: keywordsFromTitle(title)}
		}
	}

	if cached, ok := cache.get(title); ok {
		return cached
	}

	if llm != nil {
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if entity, err := llm.ExtractEntity(callCtx, title); err == nil {
			cache.set(title, entity)
			return entity
		}
	}

	fallback := EntityContext{CanonicalEntity: primaryTerm(title), Category: "general", Terms: keywordsFromTitle(title)}
	cache.set(title, fallback)
	return fallback
}

func primaryTerm(title string) string {
	words := strings.Fields(title)
	if len(words) == 0 {
		return title
	}
	return strings.ToLower(words[0])
}

var stopwords = map[string]bool{
	"will": true, "the": true, "a": true, "an": true, "of": true, "to": true,
	"in": true, "on": true, "by": true, "be": true, "is": true, "at": true,
	"for": true, "and": true, "or": true, "this": true, "that": true,
}

// keywordsFromTitle is the stopword-filtered fallback used both as a
// terms source and as the query-builder fallback in §4.11 step 5.
func keywordsFromTitle(title string) []string {
	words := strings.Fields(strings.ToLower(title))
	var terms []string
	for _, w := range words {
		w = strings.Trim(w, "?.,!\"'()")
		if w == "" || stopwords[w] {
			continue
		}
		terms = append(terms, w)
		if len(terms) >= 5 {
			break
		}
	}
	return terms
}
