package movement

import "testing"

func TestEvaluateVelocityTakesPriorityOverBoth(t *testing.T) {
	s := Stats{FirstPrice: 0.40, LastPrice: 0.50, MinPrice: 0.40, MaxPrice: 0.50, Volume: 1000, MaxHourVolume: 1000, WindowMinutes: 4}
	p := HitParams{
		PriceThreshold: 0.06, MinAbsMove: 0.02, VolumeThreshold: 2.0, VelocityThreshold: 0.02,
		MinPriceForAlert: 0.02, ScaledBaseline: 100, HourlyBaseline: 100,
		AgeDaysKnown: true, AgeDays: 10, ThinThreshold: 0.5,
	}
	r := Evaluate(s, p)
	if !r.Hit || r.Reason != ReasonVelocity {
		t.Fatalf("Evaluate() = %+v, want VELOCITY", r)
	}
}

func TestEvaluateRequiresMinPriceForAlert(t *testing.T) {
	s := Stats{FirstPrice: 0, LastPrice: 0.01, MinPrice: 0, MaxPrice: 0.01, WindowMinutes: 5}
	p := HitParams{PriceThreshold: 0.06, MinPriceForAlert: 0.02, ThinThreshold: 0.5}
	r := Evaluate(s, p)
	if r.PriceHit {
		t.Fatal("expected priceHit=false when min_price=0 (guarded by MIN_PRICE_FOR_ALERT)")
	}
}

func TestEvaluateVolumeRequiresMinimumAge(t *testing.T) {
	s := Stats{FirstPrice: 0.5, LastPrice: 0.5, MinPrice: 0.5, MaxPrice: 0.5, Volume: 10000, MaxHourVolume: 10000}
	p := HitParams{VolumeThreshold: 2.0, ScaledBaseline: 10, HourlyBaseline: 10, AgeDaysKnown: true, AgeDays: 1}
	r := Evaluate(s, p)
	if r.VolHit {
		t.Fatal("expected volHit=false when age_days < 3")
	}
}

func TestHourlyBaselineVolumeCapsObservedDaysAt30(t *testing.T) {
	baseline, observed := HourlyBaselineVolume(7200, 90)
	if observed != 30 {
		t.Fatalf("observedDays = %v, want 30", observed)
	}
	if baseline != 7200/30/24 {
		t.Fatalf("baseline = %v, want %v", baseline, 7200/30/24)
	}
}

func TestLegacyWindowTypeTranslatesOnWrite(t *testing.T) {
	if got := LegacyWindowType("24h"); got != "event" {
		t.Fatalf("LegacyWindowType(24h) = %q, want event", got)
	}
	if got := LegacyWindowType("5m"); got != "5m" {
		t.Fatalf("LegacyWindowType(5m) = %q, want 5m (unchanged)", got)
	}
}
