package retry

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies why a run did not succeed.
type Kind int

const (
	// KindInvalidConfiguration means the policy was rejected before any attempt started.
	KindInvalidConfiguration Kind = iota + 1
	// KindOperationFailure means the last counted attempt failed with an error.
	KindOperationFailure
	// KindTimeoutExceeded means the last counted attempt ran past its per-attempt timeout.
	KindTimeoutExceeded
	// KindDeadlineExceeded means the overall deadline elapsed before the run could proceed.
	KindDeadlineExceeded
	// KindCanceled means the caller's context was canceled.
	KindCanceled
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidConfiguration:
		return "InvalidConfiguration"
	case KindOperationFailure:
		return "OperationFailure"
	case KindTimeoutExceeded:
		return "TimeoutExceeded"
	case KindDeadlineExceeded:
		return "DeadlineExceeded"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var (
	ErrInvalidConfiguration = errors.New("invalid retry configuration")
	ErrOperationFailure     = errors.New("operation failed")
	ErrTimeoutExceeded      = errors.New("attempt timeout exceeded")
	ErrDeadlineExceeded     = errors.New("overall deadline exceeded")
	ErrCanceled             = errors.New("run canceled")

	// ErrAttemptTimeout is the cause attached to a token signaled because its
	// attempt ran past the per-attempt timeout.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrDeadlineBeforeAttempt is reported as the last error when the overall
	// deadline passed before the first attempt could start.
	ErrDeadlineBeforeAttempt = errors.New("deadline exceeded before attempt")

	// ErrBudgetExhausted is returned when the retry budget is exhausted and no more
	// retry attempts are allowed. This prevents cascading failures by limiting
	// retries under high load.
	ErrBudgetExhausted = errors.New("retry budget exhausted")

	// ErrNonRetryable is attached as the reason when an error was classified as
	// permanent, either by Abort or by Policy.Retryable.
	ErrNonRetryable = errors.New("non-retryable error")

	// ErrPanic wraps a value recovered from a panicking operation.
	ErrPanic = errors.New("operation panicked")
)

// Error is the terminal failure of a run. It carries the number of attempts made,
// the reason the run stopped, and the last underlying error (if any).
//
// Error matches the sentinel for its Kind with errors.Is, and also unwraps to
// Last and Reason, so callers can test for the original operation error directly.
type Error struct {
	Kind     Kind
	Attempts int
	Last     error
	Reason   error
	Elapsed  time.Duration
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("retry: %s after %d attempt(s)", e.Kind, e.Attempts)

	if e.Reason != nil {
		msg += " (" + e.Reason.Error() + ")"
	}

	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}

	return msg
}

// Unwrap exposes the kind sentinel, the last error and the stop reason.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3) //nolint:mnd

	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}

	if e.Last != nil {
		errs = append(errs, e.Last)
	}

	if e.Reason != nil {
		errs = append(errs, e.Reason)
	}

	return errs
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidConfiguration:
		return ErrInvalidConfiguration
	case KindOperationFailure:
		return ErrOperationFailure
	case KindTimeoutExceeded:
		return ErrTimeoutExceeded
	case KindDeadlineExceeded:
		return ErrDeadlineExceeded
	case KindCanceled:
		return ErrCanceled
	default:
		return nil
	}
}

// KindOf returns the Kind of a terminal run error, or 0 if err did not come from a run.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}

	return 0
}

// permanentError wraps an error to mark it as permanent (non-retryable).
type permanentError struct {
	error
}

func (e *permanentError) Unwrap() error {
	return e.error
}

// Abort wraps an error to mark it as permanent, causing the run to stop
// immediately without further attempts. Use this when you know an error is not
// transient and retrying would not help.
//
// Example:
//
//	if err := validateInput(data); err != nil {
//	    return retry.Abort(err)  // Don't retry validation errors
//	}
//	if err := makeAPICall(data); err != nil {
//	    return err  // Do retry API errors
//	}
func Abort(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err}
}

// permanentCause returns the original error if err was marked with Abort, or nil otherwise.
func permanentCause(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.error
	}

	return nil
}

// panicError converts a recovered value into an error wrapping ErrPanic.
func panicError(val any, stack []byte) error {
	if errVal, ok := val.(error); ok {
		return fmt.Errorf("%w: %w\nstack trace:\n%s", ErrPanic, errVal, string(stack))
	}

	return fmt.Errorf("%w: %v\nstack trace:\n%s", ErrPanic, val, string(stack))
}
