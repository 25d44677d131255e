package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Provider queries a NewsAPI-compatible /everything endpoint, built on
// the same github.com/hashicorp/go-retryablehttp client the REST
// pollers use (wired from NimbleMarkets-dbn-go).
type Provider struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

func NewProvider(baseURL, apiKey string) *Provider {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2
	client.HTTPClient.Timeout = 10 * time.Second
	return &Provider{baseURL: baseURL, apiKey: apiKey, client: client}
}

type providerArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

type providerResponse struct {
	Articles []providerArticle `json:"articles"`
}

// Query hits /everything with the built query string and time range,
// per §4.11 step 6.
func (p *Provider) Query(ctx context.Context, query string, from, to time.Time) ([]providerArticle, error) {
	u := fmt.Sprintf("%s/everything?q=%s&from=%s&to=%s&sortBy=publishedAt&language=en&pageSize=30",
		strings.TrimRight(p.baseURL, "/"), url.QueryEscape(query), from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("news: build provider request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news: provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news: provider status %d", resp.StatusCode)
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("news: decode provider response: %w", err)
	}
	return parsed.Articles, nil
}

// buildQuery implements §4.11 step 5: an LLM-suggested keyword set
// when available, otherwise a stopword-filtered title merged with the
// entity's own terms, capped at 250 chars.
func buildQuery(ctx context.Context, llm *LLMClient, keywordCache *entityCache, title string, entity EntityContext) string {
	if llm != nil {
		if cached, ok := keywordCache.get("kw:" + title); ok {
			return capQuery(strings.Join(cached.Terms, " "))
		}
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		keywords, err := llm.SuggestKeywords(callCtx, title)
		cancel()
		if err == nil && len(keywords) > 0 {
			keywordCache.set("kw:"+title, EntityContext{Terms: keywords})
			return capQuery(strings.Join(keywords, " "))
		}
	}

	terms := keywordsFromTitle(title)
	seen := make(map[string]bool, len(terms))
	merged := make([]string, 0, len(terms)+len(entity.Terms))
	for _, t := range append(terms, entity.Terms...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
	}
	return capQuery(strings.Join(merged, " "))
}

func capQuery(q string) string {
	if len(q) > 250 {
		return q[:250]
	}
	return q
}
