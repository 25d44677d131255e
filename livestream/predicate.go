package livestream

// dominantSource is the subset of subscription.Controller the
// predicate needs; kept as an interface so tests don't need a real
// Controller.
type dominantSource interface {
	DominantOutcome(market string) (label string, ok bool)
}

// Predicate implements §4.12's shouldInclude rule: event markets pass
// everything, yesOnly requests only pass "Yes", binary markets pass
// only their primary outcome, and everything else passes the dominant
// outcome when known or anything when it isn't.
type Predicate struct {
	eventMode bool
	yesOnly   bool
	primary   map[string]string
}

func newPredicate(p Params, dominant dominantSource, markets []string) *Predicate {
	pr := &Predicate{eventMode: len(p.EventSlugs) > 0, yesOnly: p.YesOnly, primary: make(map[string]string)}
	if dominant == nil {
		return pr
	}
	for _, m := range markets {
		if label, ok := dominant.DominantOutcome(m); ok {
			pr.primary[m] = label
		}
	}
	return pr
}

var binaryPairs = [][2]string{{"Yes", "No"}, {"Up", "Down"}}

func isBinaryOutcome(outcome string) bool {
	for _, pair := range binaryPairs {
		if outcome == pair[0] || outcome == pair[1] {
			return true
		}
	}
	return false
}

func defaultPrimary(outcome string) string {
	for _, pair := range binaryPairs {
		if outcome == pair[0] || outcome == pair[1] {
			return pair[0]
		}
	}
	return outcome
}

func (pr *Predicate) shouldInclude(market, outcome string) bool {
	if pr.eventMode {
		return true
	}
	if pr.yesOnly {
		return outcome == "Yes"
	}
	if isBinaryOutcome(outcome) {
		primary, ok := pr.primary[market]
		if !ok {
			primary = defaultPrimary(outcome)
		}
		return outcome == primary
	}

	dominant, ok := pr.primary[market]
	if !ok {
		return true
	}
	return outcome == dominant
}
