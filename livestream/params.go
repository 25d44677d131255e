// Package livestream implements the Live Stream Endpoint and its
// companion Track endpoint (§4.12): an SSE handler grounded on the
// teacher's realtime/broker.go (register/unregister/broadcast) and
// api/dashboard_sse.go (ticker-driven SSE with named events and
// heartbeats), re-targeted from the teacher's fixed dashboard payload
// set onto the spec's market-scoped tick/trade/movement/rotate stream.
package livestream

import "net/http"

// Params is the set of {market_id, slugs, asset_id, event_slug} filters
// a client can request, plus the yesOnly narrowing flag.
type Params struct {
	MarketIDs  []string
	Slugs      []string
	AssetIDs   []string
	EventSlugs []string
	YesOnly    bool
}

// ParseParams reads the first populated selector from the request --
// §4.12 names market_id, slugs, asset_id, and event_slug as the four
// ways a client can scope a connection.
func ParseParams(r *http.Request) Params {
	q := r.URL.Query()
	return Params{
		MarketIDs:  q["market_id"],
		Slugs:      q["slugs"],
		AssetIDs:   q["asset_id"],
		EventSlugs: q["event_slug"],
		YesOnly:    q.Get("yes_only") == "true",
	}
}

func (p Params) empty() bool {
	return len(p.MarketIDs) == 0 && len(p.Slugs) == 0 && len(p.AssetIDs) == 0 && len(p.EventSlugs) == 0
}
