package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// Jitter adds random jitter to a duration to prevent synchronized restarts.
// jitterFraction is between 0.0 (no jitter) and 1.0 (up to 100% jitter).
func Jitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 || duration <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}

	jitter := rand.Float64() * jitterFraction
	multiplier := 1.0 + (jitter * 2.0) - jitterFraction
	return time.Duration(float64(duration) * multiplier)
}

// ExponentialBackoff returns baseDelay * 2^attempt with ±25% jitter, never
// more than maxDelay. attempt is 0-indexed.
func ExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > maxDelay || delay < 0 {
		delay = maxDelay
	}

	delay = Jitter(delay, 0.25)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
