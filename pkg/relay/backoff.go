package relay

import "time"

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 600 * time.Second
)

// Backoff returns the wait before reconnect attempt n (0-based): 2s doubled
// per attempt, capped at 600s.
func Backoff(attempt int) time.Duration {
	d := initialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
