package signal

import (
	"fmt"
	"strings"

	"marketpulse/storegateway"
)

// synthesizeExplanation builds the narrative text attached to a scored
// movement. A headline from the News Relevance Engine upgrades the
// explanation to "ai" sourced; its absence falls back to a template,
// per §4.10's "failures ... degrade to a template explanation" rule.
func synthesizeExplanation(m storegateway.Movement, classification string, confidence float64, headline string) (text, source string) {
	direction := "moved"
	switch {
	case m.PctChange > 0:
		direction = "rose"
	case m.PctChange < 0:
		direction = "fell"
	}

	base := fmt.Sprintf("%s %s %.1f%% over the %s window (range %.1f%%, %d trades, classified %s at %.0f%% confidence).",
		m.Outcome, direction, absPct(m.PctChange), m.WindowType, m.RangePct*100, m.TradesCount, strings.ToLower(classification), confidence*100)

	if headline == "" {
		return base, "template"
	}
	return base + " Related coverage: " + headline, "ai"
}

func absPct(v float64) float64 {
	if v < 0 {
		return -v * 100
	}
	return v * 100
}
