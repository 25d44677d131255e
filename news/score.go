package news

import (
	"sort"
	"strings"
	"time"
)

// reputableSources scores higher under sourceQuality -- the spec names
// no concrete source-quality method, so this fixed allowlist is the
// implementation decision recorded here and in DESIGN.md.
var reputableSources = map[string]bool{
	"reuters": true, "associated press": true, "bloomberg": true,
	"bbc news": true, "the new york times": true, "the wall street journal": true,
}

func containsAnyTerm(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func isAllStopwords(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		w = strings.Trim(w, "?.,!\"'()")
		if w != "" && !stopwords[w] {
			return false
		}
	}
	return true
}

// filterArticle implements §4.11 step 7.
func filterArticle(a providerArticle, entity EntityContext) bool {
	combined := a.Title + " " + a.Description
	if !containsAnyTerm(combined, entity.Terms) {
		return false
	}
	if isAllStopwords(a.Title) && isAllStopwords(a.Description) {
		return false
	}
	return true
}

func recencyScore(published, windowEnd time.Time, lookback time.Duration) float64 {
	if published.After(windowEnd) || published.Equal(windowEnd) {
		return 1.0
	}
	age := windowEnd.Sub(published)
	if age >= lookback {
		return 0.05
	}
	frac := float64(age) / float64(lookback)
	return 1.0 - frac*0.95
}

func sourceQuality(source string) float64 {
	if reputableSources[strings.ToLower(source)] {
		return 1.0
	}
	return 0.5
}

// scoreArticle implements §4.11 step 8.
func scoreArticle(a providerArticle, entity EntityContext, queryKeywords []string, windowEnd time.Time, lb time.Duration) Article {
	published, _ := time.Parse(time.RFC3339, a.PublishedAt)

	entityHits := 0
	combined := a.Title + " " + a.Description
	for _, t := range entity.Terms {
		if containsAnyTerm(combined, []string{t}) {
			entityHits++
		}
	}
	entityComponent := 0.0
	if len(entity.Terms) > 0 {
		entityComponent = float64(entityHits) / float64(len(entity.Terms))
	}

	queryHits := 0
	for _, kw := range queryKeywords {
		if containsAnyTerm(combined, []string{kw}) {
			queryHits++
		}
	}
	queryComponent := 0.0
	if len(queryKeywords) > 0 {
		queryComponent = float64(queryHits) / float64(len(queryKeywords))
	}

	relevance := 0.45*entityComponent + 0.35*recencyScore(published, windowEnd, lb) +
		0.10*sourceQuality(a.Source.Name) + 0.10*queryComponent

	return Article{
		Title: a.Title, Description: a.Description, Source: a.Source.Name,
		URL: a.URL, PublishedAt: published, Relevance: relevance,
	}
}

// aggregateScore implements §4.11 step 9: a single 0..1 score over the
// full filtered/scored article set for the movement.
func aggregateScore(articles []Article) float64 {
	if len(articles) == 0 {
		return 0
	}
	sorted := make([]Article, len(articles))
	copy(sorted, articles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Relevance > sorted[j].Relevance })

	top := sorted
	if len(top) > 5 {
		top = top[:5]
	}
	sum := 0.0
	for _, a := range top {
		sum += a.Relevance
	}
	avgTop5 := sum / float64(len(top))

	sources := make(map[string]bool)
	for _, a := range articles {
		sources[strings.ToLower(a.Source)] = true
	}

	countScore := clamp(float64(len(articles)) / 8)
	sourceScore := clamp(float64(len(sources)) / 4)

	return 0.35*avgTop5 + 0.40*countScore + 0.25*sourceScore
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
