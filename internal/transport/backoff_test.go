package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextDelay_GrowsAndCaps(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 5, Base: time.Second, Growth: 1.5, Cap: 3 * time.Second}

	var prev time.Duration
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		d := p.NextDelay(attempt)
		if d < prev {
			t.Fatalf("delay for attempt %d (%v) decreased below %v", attempt, d, prev)
		}
		if d > p.Cap {
			t.Fatalf("delay for attempt %d (%v) exceeds cap %v", attempt, d, p.Cap)
		}
		prev = d
	}

	require.Equal(t, time.Second, p.NextDelay(1))
	require.Equal(t, 1500*time.Millisecond, p.NextDelay(2))
	require.Equal(t, 2250*time.Millisecond, p.NextDelay(3))
	require.Equal(t, 3*time.Second, p.NextDelay(4), "attempt 4 hits the cap")
	require.Equal(t, 3*time.Second, p.NextDelay(5))
}

func TestDefaultReconnectPolicy(t *testing.T) {
	p := DefaultReconnectPolicy()
	require.Equal(t, 5, p.MaxAttempts)
	require.Equal(t, 30*time.Second, p.Cap)
}
