// Package movement holds the hit-rule math shared by the windowed and
// event movement detectors (§4.7, §4.8): both scan a price/volume
// history over a configured window and classify the result into one of
// PRICE/VOLUME/BOTH/VELOCITY. The real-time detector (movement/realtime)
// is a different algorithm (EMA/breakout on a tick stream) and lives in
// its own subpackage.
package movement

import "math"

// Reason is the classification a windowed scan assigns a detected move.
type Reason string

const (
	ReasonPrice    Reason = "PRICE"
	ReasonVolume   Reason = "VOLUME"
	ReasonBoth     Reason = "BOTH"
	ReasonVelocity Reason = "VELOCITY"
)

// Stats is the price/volume summary computed over a detection window,
// built from ticks where available and trades otherwise (§4.7 step 2).
type Stats struct {
	FirstPrice    float64
	LastPrice     float64
	MinPrice      float64
	MaxPrice      float64
	Volume        float64
	MaxHourVolume float64
	WindowMinutes float64
}

// HitParams bundles the per-window thresholds and the derived baseline
// inputs needed to evaluate the hit rules.
type HitParams struct {
	PriceThreshold    float64
	ThinThreshold     float64
	MinAbsMove        float64
	VolumeThreshold   float64
	VelocityThreshold float64
	MinPriceForAlert  float64
	ScaledBaseline    float64 // windowVolume / scaledBaseline >= volumeThreshold
	HourlyBaseline    float64 // maxHourVolume / hourlyBaseline >= volumeThreshold
	AgeDaysKnown      bool
	AgeDays           float64
}

// Result is the outcome of evaluating a Stats against HitParams.
type Result struct {
	Drift    float64
	RangePct float64
	AbsMove  float64
	PriceHit bool
	VolHit   bool
	VelHit   bool
	Hit      bool
	Reason   Reason
	Thin     bool
}

// Evaluate implements §4.7 step 4-5's hit rules and reason assignment,
// reused verbatim by the windowed and event detectors (§4.8 applies the
// same algorithm to a volume-weighted multi-market window).
func Evaluate(s Stats, p HitParams) Result {
	var r Result

	if s.FirstPrice != 0 {
		r.Drift = (s.LastPrice - s.FirstPrice) / s.FirstPrice
	}
	if s.MinPrice != 0 {
		r.RangePct = (s.MaxPrice - s.MinPrice) / s.MinPrice
	}
	r.AbsMove = math.Abs(s.LastPrice - s.FirstPrice)

	priceOK := s.FirstPrice >= p.MinPriceForAlert
	r.PriceHit = priceOK && math.Abs(r.Drift) >= p.PriceThreshold ||
		(r.RangePct >= p.PriceThreshold && r.AbsMove >= p.MinAbsMove)

	if p.AgeDaysKnown && p.AgeDays >= 3 {
		volByWindow := p.ScaledBaseline > 0 && s.Volume/p.ScaledBaseline >= p.VolumeThreshold
		volByHour := p.HourlyBaseline > 0 && s.MaxHourVolume/p.HourlyBaseline >= p.VolumeThreshold
		r.VolHit = volByWindow || volByHour
	}

	if s.WindowMinutes > 0 {
		r.VelHit = math.Abs(r.Drift)/math.Sqrt(s.WindowMinutes) >= p.VelocityThreshold
	}

	switch {
	case r.VelHit && r.PriceHit:
		r.Reason = ReasonVelocity
		r.Hit = true
	case r.PriceHit && r.VolHit:
		r.Reason = ReasonBoth
		r.Hit = true
	case r.PriceHit:
		r.Reason = ReasonPrice
		r.Hit = true
	case r.VolHit:
		r.Reason = ReasonVolume
		r.Hit = true
	}

	r.Thin = r.RangePct >= p.ThinThreshold
	return r
}

// HourlyBaselineVolume implements §4.7 step 3's "hourly baseline from
// market aggregate" formula.
func HourlyBaselineVolume(totalVolume float64, ageDays float64) (baseline float64, observedDays float64) {
	observedDays = ageDays
	if observedDays > 30 {
		observedDays = 30
	}
	if observedDays <= 0 {
		return 0, observedDays
	}
	return totalVolume / observedDays / 24, observedDays
}

// LegacyWindowType maps the legacy "24h" window type to "event" and
// leaves every other value unchanged. The detectors only write the
// canonical set {5m,15m,1h,4h,event}; readers of stored rows (signal,
// finalize) pass window_type through this.
func LegacyWindowType(windowType string) string {
	if windowType == "24h" {
		return "event"
	}
	return windowType
}
