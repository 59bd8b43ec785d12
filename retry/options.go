package retry

import "github.com/jonboulle/clockwork"

// Option is a function that configures a Runner or a single Run call.
// Options follow the functional options pattern for flexible configuration.
type Option func(*options)

// options holds the per-run collaborators. Timing policy lives in Policy.
type options struct {
	clock    clockwork.Clock // Source of Now and AfterFunc
	observer Observer        // Side channel for attempt events
	budget   *Budget         // Retry budget to prevent cascading failures
	runID    string          // Fixed run ID, generated when empty
	name     string          // Logical operation name reported to observers
}

func newOptions(opts []Option) *options {
	o := &options{
		clock:    clockwork.NewRealClock(),
		observer: NoopObserver{},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// WithClock replaces the wall clock used for timers, backoff waits and deadlines.
// Tests pass a clockwork.FakeClock to drive time explicitly.
//
// Example:
//
//	clock := clockwork.NewFakeClock()
//	go retry.Run(ctx, policy, op, retry.WithClock(clock))
//	clock.Advance(100 * time.Millisecond)
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithObserver registers an observer for attempt and settlement events. Use
// Observers to combine several.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithBudget configures a retry budget to prevent cascading failures.
// The budget limits retries when the system is under heavy load. A single
// Budget is meant to be shared by many runs.
//
// Example:
//
//	budget := &retry.Budget{
//	    Rate:  10.0,  // Enforce budget when > 10 req/sec
//	    Ratio: 0.1,   // Allow up to 10% retries
//	}
//	runner := retry.NewRunner[string](policy, retry.WithBudget(budget))
func WithBudget(budget *Budget) Option {
	return func(o *options) {
		o.budget = budget
	}
}

// WithRunID fixes the identifier reported to observers and exposed by RunID.
// By default every run gets a random UUID.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithName sets the logical operation name reported to observers.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
