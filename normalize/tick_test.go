package normalize

import (
	"errors"
	"math"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestNormalizeCrossedBookRejected(t *testing.T) {
	r := RawBook{Market: "m1", Asset: "a1", BestBid: f(0.6), BestAsk: f(0.5)}
	_, err := r.Normalize()
	if !errors.Is(err, ErrCrossedBook) {
		t.Fatalf("expected ErrCrossedBook, got %v", err)
	}
}

func TestNormalizeWideSpreadRejectedAtExactBoundary(t *testing.T) {
	// mid = 0.5, spread = 0.15 -> spreadPct = 0.30 exactly, must be rejected.
	r := RawBook{Market: "m1", Asset: "a1", BestBid: f(0.425), BestAsk: f(0.575)}
	_, err := r.Normalize()
	if !errors.Is(err, ErrSpreadTooWide) {
		t.Fatalf("expected ErrSpreadTooWide at exact 30%% boundary, got %v", err)
	}
}

func TestNormalizeComputesMidAndSpread(t *testing.T) {
	r := RawBook{Market: "m1", Asset: "a1", BestBid: f(0.40), BestAsk: f(0.44)}
	tick, err := r.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(*tick.Mid-0.42) > 1e-12 {
		t.Errorf("Mid = %v, want ~0.42", *tick.Mid)
	}
	if *tick.Spread != 0.040000000000000036 && *tick.Spread < 0.0399 {
		t.Errorf("Spread = %v, want ~0.04", *tick.Spread)
	}
}

func TestNormalizeOneSidedBookPassesThrough(t *testing.T) {
	r := RawBook{Market: "m1", Asset: "a1", BestBid: f(0.4)}
	tick, err := r.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick.Mid != nil {
		t.Error("expected nil Mid when only one side present")
	}
}
