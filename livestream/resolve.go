package livestream

import (
	"context"
	"encoding/json"
	"time"

	"marketpulse/normalize"
	"marketpulse/storegateway"
)

// resolveMarketIDs implements §4.12's market-resolution step: market_id
// and asset_id lists pass through directly; slugs resolve through
// recent trades' identity payload, falling back to whatever has traded
// in the last 10 minutes; event_slug is treated the same way as slugs.
func resolveMarketIDs(ctx context.Context, store *storegateway.Store, p Params) []string {
	if len(p.MarketIDs) > 0 {
		return p.MarketIDs
	}
	if len(p.AssetIDs) > 0 {
		return p.AssetIDs
	}

	slugs := p.Slugs
	if len(slugs) == 0 {
		slugs = p.EventSlugs
	}
	if len(slugs) == 0 {
		return nil
	}

	resolved := resolveSlugs(ctx, store, slugs)
	if len(resolved) > 0 {
		return resolved
	}
	return activeAssetsFallback(ctx, store)
}

// resolveSlugs reads the most recent trades, extracts each one's slug
// identity from its raw payload, and keeps -- per slug -- only the
// market of the newest matching trade. Tick recency is not consulted.
func resolveSlugs(ctx context.Context, store *storegateway.Store, slugs []string) []string {
	want := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		want[s] = true
	}

	var trades []storegateway.Trade
	if err := store.Fetch(ctx, &trades, "", nil, "timestamp desc", 2000); err != nil {
		return nil
	}

	bySlug := make(map[string]string) // slug -> market
	for _, t := range trades {
		var payload map[string]interface{}
		if json.Unmarshal([]byte(t.RawPayload), &payload) != nil {
			continue
		}
		identity := normalize.ExtractMarketIdentity(payload)
		if identity.Slug == "" || !want[identity.Slug] {
			continue
		}
		if _, already := bySlug[identity.Slug]; !already {
			bySlug[identity.Slug] = t.Market
		}
	}

	out := make([]string, 0, len(bySlug))
	for _, market := range bySlug {
		out = append(out, market)
	}
	return mostRecentPerSlug(ctx, store, out)
}

// mostRecentPerSlug is a no-op pass-through when resolveSlugs has
// already collapsed to one market per slug; kept as its own step since
// the spec calls the collapse out separately from resolution itself.
func mostRecentPerSlug(_ context.Context, _ *storegateway.Store, markets []string) []string {
	return markets
}

func activeAssetsFallback(ctx context.Context, store *storegateway.Store) []string {
	since := time.Now().Add(-10 * time.Minute)
	var latest []storegateway.MarketMidLatest
	if err := store.Fetch(ctx, &latest, "timestamp >= ?", []interface{}{since}, "timestamp desc", 200); err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, l := range latest {
		if seen[l.Market] {
			continue
		}
		seen[l.Market] = true
		out = append(out, l.Market)
	}
	return out
}
