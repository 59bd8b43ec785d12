package retry

import (
	"math/rand/v2"
	"time"
)

// Jitter represents a jitter strategy for retry delays. Jitter adds randomness
// to backoff delays to prevent the "thundering herd" problem where many clients
// retry at the same time, overwhelming the server.
//
// The value represents the amount of randomness:
//   - 0.0: No jitter (deterministic delays)
//   - 0.5: Equal jitter (50% random, 50% deterministic)
//   - 1.0: Full jitter (completely random between 0 and delay)
//   - Negative values: Disable jitter (use exact delay)
type Jitter float64

// EqualJitter: delay/2 + random(0, delay/2).
const EqualJitter Jitter = 0.5

// FullJitter: random(0, delay).
const FullJitter Jitter = 1.0

// WithoutJitter disables jitter entirely, using the exact calculated delay.
const WithoutJitter Jitter = -1.0

// WithJitter wraps a Backoff so every delay it produces is randomized by j.
//
// Example:
//
//	backoff := retry.WithJitter(retry.ExpBackoff{
//	    Base:   100 * time.Millisecond,
//	    Max:    2 * time.Second,
//	    Factor: 2,
//	}, retry.FullJitter)
func WithJitter(b Backoff, j Jitter) Backoff {
	if b == nil {
		return nil
	}

	return BackoffFunc(func(attempt uint) time.Duration {
		return j.apply(b.Delay(attempt))
	})
}

// apply randomizes d according to the jitter value:
//   - Negative or zero jitter: returns d unchanged
//   - Full jitter (>= 1.0): returns a random value between 0 and d
//   - Partial jitter: returns a weighted blend of the random value and d
func (j Jitter) apply(d time.Duration) time.Duration {
	if j <= 0.0 || d <= 0 {
		return d
	}

	//nolint:gosec // G404: math/rand is sufficient for jitter
	r := rand.Float64() * float64(d)

	if j < 1.0 {
		r = float64(j)*r + float64(1.0-j)*float64(d)
	}

	return time.Duration(r)
}
