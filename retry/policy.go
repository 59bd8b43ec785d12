package retry

import (
	"fmt"
	"time"
)

// Policy configures a single run. It is read once at the start of a run and
// never modified by the executor.
//
// A zero PerAttemptTimeout or OverallDeadline means "not configured". Negative
// values are rejected by Validate.
//
// Example:
//
//	policy := retry.Policy{
//	    MaxAttempts:       3,
//	    PerAttemptTimeout: 2 * time.Second,
//	    OverallDeadline:   5 * time.Second,
//	    Backoff:           retry.Constant(100 * time.Millisecond),
//	}
type Policy struct {
	// MaxAttempts bounds the total number of operation invocations, including
	// the first one. 1 means "no retries".
	MaxAttempts int

	// PerAttemptTimeout is armed fresh at the start of every attempt.
	PerAttemptTimeout time.Duration

	// OverallDeadline caps the whole run. No attempt starts once it has passed.
	OverallDeadline time.Duration

	// Backoff computes the delay before the next attempt. Nil means no delay.
	Backoff Backoff

	// Retryable classifies operation failures. Nil means every failure is retryable.
	// Timeouts are always retryable.
	Retryable func(err error) bool
}

// Validate checks the policy and returns an error wrapping ErrInvalidConfiguration
// describing the first problem found.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfiguration, p.MaxAttempts)
	case p.PerAttemptTimeout < 0:
		return fmt.Errorf("%w: per-attempt timeout must be positive, got %s",
			ErrInvalidConfiguration, p.PerAttemptTimeout)
	case p.OverallDeadline < 0:
		return fmt.Errorf("%w: overall deadline must be positive, got %s",
			ErrInvalidConfiguration, p.OverallDeadline)
	}

	return nil
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}

	return p.Retryable(err)
}

func (p Policy) delay(attemptIndex uint) time.Duration {
	if p.Backoff == nil {
		return 0
	}

	d := p.Backoff.Delay(attemptIndex)
	if d < 0 {
		return 0
	}

	return d
}
