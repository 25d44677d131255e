package normalize

import "time"

// Side is the aggressor side of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Trade is the venue-agnostic shape every source adapter produces.
type Trade struct {
	ID           string
	Market       string
	OutcomeLabel string
	OutcomeIndex int
	Price        float64
	Size         float64
	Side         Side
	Timestamp    time.Time
	RawPayload   string
}

// RawTrade is what an adapter extracts from its venue's wire format before
// normalization; QuoteDivisor is the venue's integer-price scale (e.g.
// cents = 100) and is only used when Price > 1.
type RawTrade struct {
	TxHash       string
	Asset        string
	Market       string
	OutcomeLabel string
	OutcomeIndex int
	Price        float64
	Size         float64
	Side         Side
	Timestamp    time.Time
	QuoteDivisor float64
	RawPayload   string
}

// Normalize normalizes a raw trade: prices above 1 are assumed to be a raw
// integer representation and are scaled down by QuoteDivisor, then
// clamped to [0,1]. Size is clamped to >= 0.
func (r RawTrade) Normalize() Trade {
	price := r.Price
	divisor := r.QuoteDivisor
	if divisor <= 0 {
		divisor = 100
	}
	if price > 1 {
		price = price / divisor
	}
	if price < 0 {
		price = 0
	}
	if price > 1 {
		price = 1
	}

	size := r.Size
	if size < 0 {
		size = 0
	}

	id := TradeID(r.TxHash, r.Asset, r.Market, r.Timestamp.UnixMilli())

	return Trade{
		ID:           id,
		Market:       r.Market,
		OutcomeLabel: r.OutcomeLabel,
		OutcomeIndex: r.OutcomeIndex,
		Price:        price,
		Size:         size,
		Side:         r.Side,
		Timestamp:    r.Timestamp,
		RawPayload:   r.RawPayload,
	}
}

// MarketIdentity is the {slug, title, outcome label, outcome index} tuple
// every adapter must be able to produce from its raw payload, regardless
// of whether the venue nests it under payload or payload.payload.
type MarketIdentity struct {
	Slug         string
	Title        string
	OutcomeLabel string
	OutcomeIndex int
}

// ExtractMarketIdentity pulls the identity tuple out of a decoded payload
// map, trying the top level first and falling back to a nested "payload"
// object -- the shape several venues use when they wrap events.
func ExtractMarketIdentity(payload map[string]interface{}) MarketIdentity {
	id := extractFlat(payload)
	if id.Slug != "" {
		return id
	}
	if nested, ok := payload["payload"].(map[string]interface{}); ok {
		return extractFlat(nested)
	}
	return id
}

func extractFlat(m map[string]interface{}) MarketIdentity {
	var id MarketIdentity
	if s, ok := m["slug"].(string); ok {
		id.Slug = s
	} else if s, ok := m["eventSlug"].(string); ok {
		id.Slug = s
	}
	if t, ok := m["title"].(string); ok {
		id.Title = t
	} else if t, ok := m["question"].(string); ok {
		id.Title = t
	}
	if o, ok := m["outcome"].(string); ok {
		id.OutcomeLabel = o
	}
	if idx, ok := m["outcomeIndex"].(float64); ok {
		id.OutcomeIndex = int(idx)
	}
	return id
}
