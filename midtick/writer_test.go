package midtick

import (
	"testing"
	"time"
)

func ptr(f float64) *float64 { return &f }

func TestValueChangedDetectsAppearanceAndDisappearance(t *testing.T) {
	if !valueChanged(false, 0, ptr(0.5)) {
		t.Fatal("expected change when a nil value becomes present")
	}
	if !valueChanged(true, 0.5, nil) {
		t.Fatal("expected change when a present value becomes nil")
	}
	if valueChanged(true, 0.500, ptr(0.5001)) {
		t.Fatal("expected no change below 3-decimal rounding resolution")
	}
	if !valueChanged(true, 0.500, ptr(0.502)) {
		t.Fatal("expected change above 3-decimal rounding resolution")
	}
}

func TestBucketRolled(t *testing.T) {
	now := time.Now()
	b1 := now.UnixNano() / int64(bucketWindow)
	b2 := now.Add(3 * time.Second).UnixNano() / int64(bucketWindow)
	if bucketRolled(b1, b1) {
		t.Fatal("same bucket should not be a roll")
	}
	if !bucketRolled(b1, b2) {
		t.Fatal("3s later bucket should have rolled")
	}
}

func TestRound3(t *testing.T) {
	if round3(0.12345) != 0.123 {
		t.Errorf("round3(0.12345) = %v, want 0.123", round3(0.12345))
	}
}
