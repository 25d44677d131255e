package news

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketpulse/storegateway"
)

// cacheKey is the (cacheSlug, bucket) keying scheme from §4.11 steps 3-4.
func cacheKey(entity EntityContext, windowType string, windowEnd time.Time) (slug string, bucket int64) {
	slug = slugify(entity.CanonicalEntity) + "__" + windowType
	bucket = windowEnd.UnixMilli() / bucketMs(windowType)
	return
}

func slugify(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c+32)
		case c == ' ' || c == '-' || c == '_':
			out = append(out, '-')
		}
	}
	return string(out)
}

// readCache loads cached articles for the key, if present.
func readCache(ctx context.Context, store *storegateway.Store, slug string, bucket int64) ([]Article, bool) {
	var row storegateway.NewsCache
	err := store.DB().WithContext(ctx).Where("cache_slug = ? AND bucket = ?", slug, bucket).First(&row).Error
	if err != nil {
		return nil, false
	}
	var articles []Article
	if err := json.Unmarshal([]byte(row.ArticlesBlob), &articles); err != nil {
		return nil, false
	}
	return articles, true
}

// writeCache persists the fetched articles, even when empty, per
// §4.11 step 10 ("write back ... even on empty results").
func writeCache(ctx context.Context, store *storegateway.Store, slug string, bucket int64, query string, articles []Article) error {
	blob, err := json.Marshal(articles)
	if err != nil {
		return fmt.Errorf("news: marshal cache blob: %w", err)
	}
	row := storegateway.NewsCache{
		CacheSlug: slug, Bucket: bucket, ArticlesBlob: string(blob),
		ArticleCount: len(articles), Query: query, FetchedAt: time.Now(),
	}
	return store.Upsert(ctx, &row, []string{"cache_slug", "bucket"}, []string{"articles_blob", "article_count", "query", "fetched_at"})
}
