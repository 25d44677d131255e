package adapter

import (
	"context"
	"strings"
	"time"
)

// MonitorStale runs a ticker at checkInterval and invokes onStale whenever
// lastMessageAt() has been idle longer than staleAfter -- the outer,
// coarser safety net §4.4 pairs with each adapter's own finer-grained
// heartbeat handling.
func MonitorStale(ctx context.Context, checkInterval, staleAfter time.Duration, lastMessageAt func() time.Time, onStale func()) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(lastMessageAt()) > staleAfter {
				onStale()
			}
		}
	}
}

// IsRateLimited matches the handshake-time rate-limit signals named in
// §4.4: an explicit 429 or the literal "Too Many Requests" string.
func IsRateLimited(statusCode int, body string) bool {
	if statusCode == 429 {
		return true
	}
	return strings.Contains(body, "Too Many Requests")
}
