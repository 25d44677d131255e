package news

import (
	"testing"
	"time"
)

func TestFilterArticleRejectsWithoutEntityTerm(t *testing.T) {
	entity := EntityContext{Terms: []string{"bitcoin", "etf"}}
	a := providerArticle{Title: "Weather update", Description: "Sunny today"}
	if filterArticle(a, entity) {
		t.Fatal("expected article with no entity term to be rejected")
	}
}

func TestFilterArticleAcceptsWithEntityTerm(t *testing.T) {
	entity := EntityContext{Terms: []string{"bitcoin"}}
	a := providerArticle{Title: "Bitcoin rallies past $100k", Description: "Analysts weigh in"}
	if !filterArticle(a, entity) {
		t.Fatal("expected article mentioning bitcoin to pass")
	}
}

func TestRecencyScoreFullAtWindowEnd(t *testing.T) {
	end := time.Now()
	if s := recencyScore(end, end, time.Hour); s != 1.0 {
		t.Fatalf("recencyScore at windowEnd = %v, want 1.0", s)
	}
}

func TestRecencyScoreFloorsAtLookbackEdge(t *testing.T) {
	end := time.Now()
	published := end.Add(-time.Hour)
	if s := recencyScore(published, end, time.Hour); s != 0.05 {
		t.Fatalf("recencyScore at lookback edge = %v, want 0.05", s)
	}
}

func TestAggregateScoreEmptyIsZero(t *testing.T) {
	if s := aggregateScore(nil); s != 0 {
		t.Fatalf("aggregateScore(nil) = %v, want 0", s)
	}
}

func TestAggregateScoreRewardsCountAndSourceDiversity(t *testing.T) {
	many := make([]Article, 10)
	for i := range many {
		many[i] = Article{Relevance: 0.5, Source: "source-" + string(rune('a'+i))}
	}
	few := []Article{{Relevance: 0.5, Source: "one-source"}}
	if aggregateScore(many) <= aggregateScore(few) {
		t.Fatal("more articles from more distinct sources should score higher")
	}
}

func TestSlugifyNormalizes(t *testing.T) {
	if got := slugify("Will It Rain?"); got != "will-it-rain" {
		t.Fatalf("slugify = %q", got)
	}
}
