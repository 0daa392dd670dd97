package llm

import (
	"sync/atomic"
	"time"
)

// DefaultQuotaCooldown is how long the primary backend stays disabled
// after it reports quota exhaustion.
const DefaultQuotaCooldown = 5 * time.Minute

// QuotaBreaker is a timed cooldown on the primary backend. The whole
// state is one disabled-until instant held in an atomic; two racing quota
// signals both extend the cooldown to approximately the same future
// instant, and last-write-wins is acceptable.
type QuotaBreaker struct {
	disabledUntil atomic.Int64 // unix nanos; zero means never tripped
	cooldown      time.Duration
}

// NewQuotaBreaker creates a closed breaker. A non-positive cooldown
// falls back to DefaultQuotaCooldown.
func NewQuotaBreaker(cooldown time.Duration) *QuotaBreaker {
	if cooldown <= 0 {
		cooldown = DefaultQuotaCooldown
	}
	return &QuotaBreaker{cooldown: cooldown}
}

// Allow reports whether the primary backend may be called at the given
// instant.
func (b *QuotaBreaker) Allow(now time.Time) bool {
	return now.UnixNano() >= b.disabledUntil.Load()
}

// Trip disables the primary backend for the configured cooldown starting
// at now.
func (b *QuotaBreaker) Trip(now time.Time) {
	b.disabledUntil.Store(now.Add(b.cooldown).UnixNano())
}

// DisabledUntil returns the instant the breaker reopens the primary.
// Zero time means the breaker has never tripped.
func (b *QuotaBreaker) DisabledUntil() time.Time {
	n := b.disabledUntil.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
