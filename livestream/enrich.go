package livestream

import (
	"context"
	"strings"

	"marketpulse/storegateway"
)

// MovementEvent is the wire shape emitted for a "movement" SSE event,
// a Movement row plus its resolved narrative.
type MovementEvent struct {
	storegateway.Movement
	Explanation string `json:"explanation,omitempty"`
}

// enrichMovements implements §4.12's movement enrichment step: it bulk
// resolves each movement's explanation. For event-scoped movements the
// first "market X" in the text is replaced with the movement's market;
// the signal scorer's explanation template contains no such text, so its
// explanations pass through unchanged.
func enrichMovements(ctx context.Context, store *storegateway.Store, movements []storegateway.Movement) []MovementEvent {
	if len(movements) == 0 {
		return nil
	}

	ids := make([]string, len(movements))
	for i, m := range movements {
		ids[i] = m.ID
	}

	var explanations []storegateway.MovementExplanation
	_ = store.Fetch(ctx, &explanations, "movement_id IN ?", []interface{}{ids}, "", 0)

	byID := make(map[string]string, len(explanations))
	for _, e := range explanations {
		byID[e.MovementID] = e.Text
	}

	out := make([]MovementEvent, len(movements))
	for i, m := range movements {
		text := byID[m.ID]
		if m.WindowType == "event" {
			text = strings.Replace(text, "market X", m.Market, 1)
		}
		out[i] = MovementEvent{Movement: m, Explanation: text}
	}
	return out
}
