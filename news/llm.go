package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// llmSystemPrompt constrains the model to short, structured output --
// the teacher's llm/client.go uses a similarly terse system message for
// its own analyst persona.
const llmSystemPrompt = "You extract structured facts from prediction-market titles. Answer with compact JSON only, no prose."

// LLMClient is an OpenAI-compatible chat client, adapted from the
// teacher's llm/client.go onto github.com/hashicorp/go-retryablehttp
// (wired from NimbleMarkets-dbn-go) instead of a bare *http.Client, so
// transient LLM-endpoint failures get the same bounded-retry treatment
// the REST pollers get.
type LLMClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *retryablehttp.Client
}

func NewLLMClient(endpoint, apiKey, model string) *LLMClient {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2
	client.HTTPClient.Timeout = 8 * time.Second
	return &LLMClient{endpoint: endpoint, apiKey: apiKey, model: model, client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *LLMClient) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: llmSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   200,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("news: marshal llm request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", body)
	if err != nil {
		return "", fmt.Errorf("news: build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("news: llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("news: llm status %d: %s", resp.StatusCode, string(respBody))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("news: decode llm response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("news: llm returned no choices")
	}
	return chat.Choices[0].Message.Content, nil
}

// ExtractEntity is the §4.11 step 2 LLM fallback, bounded to 5 terms.
func (c *LLMClient) ExtractEntity(ctx context.Context, title string) (EntityContext, error) {
	prompt := fmt.Sprintf(`Title: %q. Respond with JSON: {"entity":"...","category":"...","terms":["...", "..."]}. At most 5 terms.`, title)
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return EntityContext{}, err
	}

	var parsed struct {
		Entity   string   `json:"entity"`
		Category string   `json:"category"`
		Terms    []string `json:"terms"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return EntityContext{}, fmt.Errorf("news: parse llm entity response: %w", err)
	}
	if len(parsed.Terms) > 5 {
		parsed.Terms = parsed.Terms[:5]
	}
	return EntityContext{CanonicalEntity: parsed.Entity, Category: parsed.Category, Terms: parsed.Terms}, nil
}

// SuggestKeywords is the §4.11 step 5 LLM query-builder call: 3-5
// search keywords for the article provider, hourly-cached by title at
// the call site.
func (c *LLMClient) SuggestKeywords(ctx context.Context, title string) ([]string, error) {
	prompt := fmt.Sprintf(`Title: %q. Respond with JSON: {"keywords":["...", "..."]}. 3 to 5 keywords, no stopwords.`, title)
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("news: parse llm keyword response: %w", err)
	}
	if len(parsed.Keywords) > 5 {
		parsed.Keywords = parsed.Keywords[:5]
	}
	return parsed.Keywords, nil
}

// extractJSON trims any stray prose around a JSON object the model
// produced despite the system prompt asking for JSON only.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
