package adapter

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff implements bounded exponential backoff with jitter, clamped at
// a maximum (§4.4). A connect attempt within 1s of the previous one is
// throttled rather than attempted.
type Backoff struct {
	mu          sync.Mutex
	base        time.Duration
	max         time.Duration
	current     time.Duration
	lastAttempt time.Time
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{base: base, max: max, current: base}
}

// Throttled reports whether a connect attempt right now is within 1s of
// the previous attempt and should be rescheduled without connecting.
func (b *Backoff) Throttled(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.lastAttempt.IsZero() && now.Sub(b.lastAttempt) < time.Second {
		return true
	}
	b.lastAttempt = now
	return false
}

// Next returns the next backoff duration (with jitter) and advances the
// exponential state, clamped at max.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.current
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	waited := d/2 + jitter

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return waited
}

// RateLimited doubles the current backoff and floors it at min (§4.4's
// rate-limit detection: "double backoff to at least 30s").
func (b *Backoff) RateLimited(min time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current *= 2
	if b.current < min {
		b.current = min
	}
	if b.current > b.max {
		b.current = b.max
	}
}

// Reset restores the backoff to its base value after a successful, stable
// connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.base
}

// Current reports the backoff value the next Next() call draws from: that
// call waits between Current()/2 and Current(). For tests and logging.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
