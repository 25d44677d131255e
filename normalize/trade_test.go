package normalize

import "testing"

func TestRawTradeNormalizeScalesRawIntegerPrice(t *testing.T) {
	r := RawTrade{Market: "m1", Asset: "a1", Price: 62, Size: 10, QuoteDivisor: 100}
	got := r.Normalize()
	if got.Price != 0.62 {
		t.Errorf("Price = %v, want 0.62", got.Price)
	}
}

func TestRawTradeNormalizeClampsPrice(t *testing.T) {
	r := RawTrade{Market: "m1", Price: 250, QuoteDivisor: 100}
	if got := r.Normalize().Price; got != 1 {
		t.Errorf("Price = %v, want clamped to 1", got)
	}

	neg := RawTrade{Market: "m1", Price: -5, QuoteDivisor: 100}
	if got := neg.Normalize().Price; got != 0 {
		t.Errorf("Price = %v, want clamped to 0", got)
	}
}

func TestRawTradeNormalizeClampsSize(t *testing.T) {
	r := RawTrade{Market: "m1", Size: -10}
	if got := r.Normalize().Size; got != 0 {
		t.Errorf("Size = %v, want 0", got)
	}
}

func TestTradeIDDeterministic(t *testing.T) {
	a := TradeID("0xabc", "asset1", "market1", 1000)
	b := TradeID("0xabc", "asset1", "market1", 1000)
	if a != b {
		t.Fatalf("expected deterministic id, got %q vs %q", a, b)
	}

	fallback := TradeID("", "asset1", "market1", 1000)
	if fallback != "market1:asset1:1000" {
		t.Errorf("fallback id = %q, want market1:asset1:1000", fallback)
	}
}

func TestExtractMarketIdentityFallsBackToNested(t *testing.T) {
	payload := map[string]interface{}{
		"payload": map[string]interface{}{
			"slug":  "will-it-rain",
			"title": "Will it rain tomorrow?",
		},
	}
	id := ExtractMarketIdentity(payload)
	if id.Slug != "will-it-rain" {
		t.Errorf("Slug = %q, want will-it-rain", id.Slug)
	}
}
