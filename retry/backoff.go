package retry

import (
	"math"
	"time"
)

// Backoff calculates the delay between attempts.
type Backoff interface {
	// Delay returns how long to wait after the attempt with the given
	// zero-based index has failed, before the next attempt starts.
	Delay(attempt uint) time.Duration
}

// BackoffFunc adapts a plain function to the Backoff interface.
type BackoffFunc func(attempt uint) time.Duration

// Delay calls f(attempt).
func (f BackoffFunc) Delay(attempt uint) time.Duration {
	return f(attempt)
}

// Constant waits the same duration between every pair of attempts.
type Constant time.Duration

// Delay returns the constant duration.
func (c Constant) Delay(uint) time.Duration {
	return time.Duration(c)
}

// ExpBackoff implements exponential backoff with configurable parameters.
// The delay grows exponentially with each attempt: Base * Factor^attempt.
// The delay is capped at Max to prevent excessive wait times.
//
// Example:
//
//	backoff := retry.ExpBackoff{
//	    Base:   100 * time.Millisecond,  // Start with 100ms
//	    Max:    10 * time.Second,         // Cap at 10s
//	    Factor: 2.0,                      // Double each time
//	}
//	// Delays: 100ms, 200ms, 400ms, 800ms, 1.6s, 3.2s, 6.4s, 10s, 10s, ...
type ExpBackoff struct {
	// Base is the initial delay duration.
	Base time.Duration
	// Max is the maximum delay duration (cap). Zero means uncapped.
	Max time.Duration
	// Factor is the multiplier applied to each successive delay (e.g., 2.0 for doubling).
	Factor float64
}

// Delay calculates the exponential backoff delay for the given attempt.
// The formula is: Base * Factor^attempt, clamped between Base and Max.
func (b ExpBackoff) Delay(attempt uint) time.Duration {
	f := float64(b.Base) * math.Pow(b.Factor, float64(attempt))

	if b.Max > 0 && f > float64(b.Max) {
		return b.Max
	}

	// Overflow guard for uncapped backoffs.
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	d := time.Duration(f)
	if d < b.Base {
		return b.Base
	}

	return d
}
