package sriqueue

import "time"

// Backoff returns the delay before the next attempt after attempts failures:
// min(base * 2^(attempts-1), max). A zero max means no cap.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
		if d <= 0 { // overflow
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
