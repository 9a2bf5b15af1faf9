package transport

import (
	"math"
	"time"
)

// ReconnectPolicy bounds the retry loop after an unexpected close.
type ReconnectPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Growth      float64
	Cap         time.Duration
}

// DefaultReconnectPolicy returns the stock policy: 5 attempts, 1.5s base,
// 1.5x growth, 30s cap.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		Base:        1500 * time.Millisecond,
		Growth:      1.5,
		Cap:         30 * time.Second,
	}
}

// NextDelay returns the backoff before the given attempt (1-indexed):
// min(Cap, Base * Growth^(attempt-1)).
func (p ReconnectPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Base) * math.Pow(p.Growth, float64(attempt-1))
	if delay > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(delay)
}
