// Package retry runs an operation under a retry policy with a per-attempt timeout
// and an optional overall deadline.
//
// Every attempt gets a fresh cancellation Token and a freshly armed timer. When an
// attempt times out, its token is signaled before the next attempt starts. Attempts
// never overlap: this is sequential retry, not hedging.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.Policy{MaxAttempts: 3}, func(ctx context.Context) error {
//	    return makeAPICall(ctx)
//	})
//
// With timeouts and backoff:
//
//	policy := retry.Policy{
//	    MaxAttempts:       5,
//	    PerAttemptTimeout: time.Second,
//	    OverallDeadline:   10 * time.Second,
//	    Backoff: retry.WithJitter(retry.ExpBackoff{
//	        Base: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2,
//	    }, retry.FullJitter),
//	}
//
//	body, err := retry.Run(ctx, policy, func(ctx context.Context) ([]byte, error) {
//	    return fetch(ctx)
//	})
//	switch retry.KindOf(err) {
//	case retry.KindTimeoutExceeded:
//	    // the server didn't respond in time
//	case retry.KindOperationFailure:
//	    // the server rejected the request
//	}
package retry

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
)

// Operation is one attempt of the unit of work. It is invoked once per attempt
// with a fresh attempt context, which is canceled when the attempt is abandoned.
// Use TokenFrom to reach the attempt's cancellation token.
type Operation[T any] func(ctx context.Context) (T, error)

// Runner executes operations under a fixed policy.
type Runner[T any] interface {
	Run(ctx context.Context, op Operation[T]) (T, error)
}

// NewRunner creates a reusable Runner. The policy is validated on every Run, so
// an invalid policy surfaces as a KindInvalidConfiguration error from Run.
//
// Example:
//
//	runner := retry.NewRunner[string](retry.Policy{
//	    MaxAttempts:       3,
//	    PerAttemptTimeout: 500 * time.Millisecond,
//	}, retry.WithObserver(observer))
//	result, err := runner.Run(ctx, operation)
func NewRunner[T any](policy Policy, opts ...Option) Runner[T] {
	return &runnerImpl[T]{
		policy: policy,
		opts:   opts,
	}
}

type runnerImpl[T any] struct {
	policy Policy
	opts   []Option
}

func (r *runnerImpl[T]) Run(ctx context.Context, op Operation[T]) (T, error) {
	return Run(ctx, r.policy, op, r.opts...)
}

// Do is Run for operations that only report an error.
//
// Example:
//
//	err := retry.Do(ctx, policy, func(ctx context.Context) error {
//	    return client.Ping(ctx)
//	})
func Do(ctx context.Context, policy Policy, f func(ctx context.Context) error, opts ...Option) error {
	var op Operation[struct{}]

	if f != nil {
		op = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, f(ctx)
		}
	}

	_, err := Run(ctx, policy, op, opts...)

	return err
}

// Run executes op under policy and settles exactly once: with the first
// successful value, or with an *Error describing why no attempt succeeded.
//
// The returned error is:
//   - KindInvalidConfiguration if the policy is invalid (op is never invoked)
//   - KindOperationFailure if the last attempt failed, retries were exhausted or
//     the failure was non-retryable
//   - KindTimeoutExceeded if the last attempt ran past the per-attempt timeout
//   - KindDeadlineExceeded if the overall deadline stopped the run
//   - KindCanceled if ctx ended first
func Run[T any](ctx context.Context, policy Policy, op Operation[T], opts ...Option) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	o := newOptions(opts)

	r := &run[T]{
		policy:  policy,
		opts:    o,
		clock:   o.clock,
		id:      o.runID,
		state:   StateIdle,
		settled: atomic.NewBool(false),
	}

	if r.id == "" {
		r.id = uuid.NewString()
	}

	return r.execute(ctx, op)
}

// run is the state of a single Run invocation. It is confined to the goroutine
// calling Run; only attempt goroutines run concurrently, and they communicate
// exclusively through their result channel and token.
type run[T any] struct {
	policy Policy
	opts   *options
	clock  clockwork.Clock
	id     string

	start      time.Time
	deadlineAt time.Time // zero when no overall deadline is configured

	attempts    int
	lastErr     error
	lastOutcome Outcome

	state   State
	settled *atomic.Bool
}

type attemptResult[T any] struct {
	value T
	err   error
}

func (r *run[T]) execute(ctx context.Context, op Operation[T]) (T, error) {
	var zero T

	r.start = r.clock.Now()

	r.opts.observer.OnStart(ctx, RunInfo{
		RunID:  r.id,
		Name:   r.opts.name,
		Policy: r.policy,
		Start:  r.start,
	})

	if err := r.policy.Validate(); err != nil {
		return zero, r.fail(ctx, KindInvalidConfiguration, err, nil)
	}

	if op == nil {
		return zero, r.fail(ctx, KindInvalidConfiguration,
			fmt.Errorf("%w: operation is nil", ErrInvalidConfiguration), nil)
	}

	if r.policy.OverallDeadline > 0 {
		r.deadlineAt = r.start.Add(r.policy.OverallDeadline)
	}

	for index := uint(0); int(index) < r.policy.MaxAttempts; index++ {
		if ctx.Err() != nil {
			return zero, r.fail(ctx, KindCanceled, context.Cause(ctx), nil)
		}

		if r.deadlinePassed(r.clock.Now()) {
			last := r.lastErr
			if last == nil {
				last = ErrDeadlineBeforeAttempt
			}

			return zero, r.fail(ctx, KindDeadlineExceeded, last, nil)
		}

		// Initial calls always pass; they only feed the budget's rate.
		if index == 0 {
			r.opts.budget.sendOK(r.clock.Now(), false)
		}

		r.transition(StateAttempting)

		rec := AttemptRecord{
			RunID:   r.id,
			Name:    r.opts.name,
			Attempt: index,
			Start:   r.clock.Now(),
		}

		val, outcome, err := r.attempt(ctx, op, index)

		rec.Outcome = outcome
		rec.Err = err
		rec.End = r.clock.Now()

		switch outcome {
		case OutcomeSuccess:
			r.opts.observer.OnAttempt(ctx, rec)
			r.succeed(ctx)

			return val, nil
		case OutcomeCanceled:
			r.opts.observer.OnAttempt(ctx, rec)

			return zero, r.fail(ctx, KindCanceled, err, nil)
		case OutcomeDeadlineExceeded:
			r.opts.observer.OnAttempt(ctx, rec)

			return zero, r.fail(ctx, KindDeadlineExceeded, err, nil)
		case OutcomeFailure, OutcomeTimedOut:
		}

		r.lastErr = err
		r.lastOutcome = outcome

		kind := KindOperationFailure
		if outcome == OutcomeTimedOut {
			kind = KindTimeoutExceeded
		}

		if reason := r.stopReason(outcome, err); reason != nil {
			r.opts.observer.OnAttempt(ctx, rec)

			return zero, r.fail(ctx, kind, r.lastErr, reason)
		}

		if int(index)+1 >= r.policy.MaxAttempts {
			r.opts.observer.OnAttempt(ctx, rec)

			return zero, r.fail(ctx, kind, err, nil)
		}

		if !r.opts.budget.sendOK(r.clock.Now(), true) {
			r.opts.observer.OnAttempt(ctx, rec)

			return zero, r.fail(ctx, kind, err, ErrBudgetExhausted)
		}

		delay := r.policy.delay(index)

		// A backoff that would end at or past the deadline can never be
		// followed by an attempt, so stop now instead of sleeping.
		if r.deadlinePassed(r.clock.Now().Add(delay)) {
			r.opts.observer.OnAttempt(ctx, rec)

			return zero, r.fail(ctx, KindDeadlineExceeded, err, nil)
		}

		rec.NextDelay = delay
		r.opts.observer.OnAttempt(ctx, rec)

		r.transition(StateRetrying)

		if delay > 0 {
			if cause := r.wait(ctx, delay); cause != nil {
				return zero, r.fail(ctx, KindCanceled, cause, nil)
			}
		}
	}

	// Every path through the final attempt settles above.
	panic("retry: run loop ended without settling")
}

// attempt runs op once, racing it against the attempt timer and the caller's
// context. Whichever fires first wins; the loser is cleaned up before returning:
// the timer is stopped, or the token is signaled.
func (r *run[T]) attempt(ctx context.Context, op Operation[T], index uint) (T, Outcome, error) {
	var zero T

	tok := newToken(ctx)
	tok.ctx = withAttempt(tok.ctx, index, r.id, tok)

	window, cause := r.attemptWindow()

	var fired chan struct{}

	if window > 0 {
		fired = make(chan struct{})
		timer := r.clock.AfterFunc(window, func() { close(fired) })

		defer timer.Stop()
	}

	results := make(chan attemptResult[T], 1)

	r.attempts++

	go func(ctx context.Context) {
		defer func() {
			if v := recover(); v != nil {
				results <- attemptResult[T]{err: panicError(v, debug.Stack())}
			}
		}()

		val, err := op(ctx)
		results <- attemptResult[T]{value: val, err: err}
	}(tok.Context())

	select {
	case res := <-results:
		tok.release()

		if res.err == nil {
			return res.value, OutcomeSuccess, nil
		}

		// The operation gave up because the caller canceled.
		if ctx.Err() != nil {
			return zero, OutcomeCanceled, context.Cause(ctx)
		}

		return zero, OutcomeFailure, res.err
	case <-fired:
		tok.signal(cause)

		if cause == ErrDeadlineExceeded { //nolint:errorlint // identity check on our own sentinel
			return zero, OutcomeDeadlineExceeded,
				fmt.Errorf("%w during attempt %d", ErrDeadlineExceeded, index+1)
		}

		return zero, OutcomeTimedOut, fmt.Errorf("%w after %s", ErrAttemptTimeout, window)
	case <-ctx.Done():
		tok.signal(context.Cause(ctx))

		return zero, OutcomeCanceled, context.Cause(ctx)
	}
}

// attemptWindow returns how long the next attempt may run and the cause to
// signal when that window closes. A zero window means the attempt is unbounded.
func (r *run[T]) attemptWindow() (time.Duration, error) {
	window := r.policy.PerAttemptTimeout
	cause := ErrAttemptTimeout

	if !r.deadlineAt.IsZero() {
		remaining := r.deadlineAt.Sub(r.clock.Now())
		if remaining <= 0 {
			remaining = time.Nanosecond
		}

		if window == 0 || remaining < window {
			window = remaining
			cause = ErrDeadlineExceeded
		}
	}

	return window, cause
}

// stopReason decides whether a failed attempt ends the run regardless of the
// remaining budget. It returns nil when the failure may be retried.
func (r *run[T]) stopReason(outcome Outcome, err error) error {
	if outcome != OutcomeFailure {
		return nil
	}

	if cause := permanentCause(err); cause != nil {
		r.lastErr = cause

		return ErrNonRetryable
	}

	if !r.policy.retryable(err) {
		return ErrNonRetryable
	}

	return nil
}

func (r *run[T]) deadlinePassed(at time.Time) bool {
	return !r.deadlineAt.IsZero() && !at.Before(r.deadlineAt)
}

// wait blocks for the backoff delay. It returns the cancellation cause if the
// caller's context ends first.
func (r *run[T]) wait(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	timer := r.clock.AfterFunc(d, func() { close(done) })

	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (r *run[T]) transition(to State) {
	if !r.state.canTransition(to) {
		panic(fmt.Sprintf("retry: illegal transition %s -> %s", r.state, to))
	}

	r.state = to
}

// markSettled guards against settling a run twice, which would be a bug in
// this package rather than a reportable error.
func (r *run[T]) markSettled() {
	if !r.settled.CompareAndSwap(false, true) {
		panic("retry: run settled twice")
	}
}

func (r *run[T]) succeed(ctx context.Context) {
	r.markSettled()
	r.transition(StateSucceeded)

	r.opts.observer.OnSettled(ctx, r.summary(nil))
}

func (r *run[T]) fail(ctx context.Context, kind Kind, last error, reason error) error {
	r.markSettled()
	r.transition(finalState(kind))

	err := &Error{
		Kind:     kind,
		Attempts: r.attempts,
		Last:     last,
		Reason:   reason,
		Elapsed:  r.clock.Now().Sub(r.start),
	}

	r.opts.observer.OnSettled(ctx, r.summary(err))

	return err
}

func (r *run[T]) summary(err error) Summary {
	return Summary{
		RunID:    r.id,
		Name:     r.opts.name,
		Attempts: r.attempts,
		State:    r.state,
		Err:      err,
		Start:    r.start,
		End:      r.clock.Now(),
	}
}
