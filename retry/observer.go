package retry

import (
	"context"
	"time"
)

// Outcome tags how a single attempt ended. Exactly one outcome is recorded per attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeFailure
	OutcomeTimedOut
	// OutcomeDeadlineExceeded: the overall deadline expired while the attempt was in flight.
	OutcomeDeadlineExceeded
	// OutcomeCanceled: the caller canceled the run while the attempt was in flight.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeDeadlineExceeded:
		return "deadline_exceeded"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RunInfo describes a run as it starts.
type RunInfo struct {
	RunID  string
	Name   string
	Policy Policy
	Start  time.Time
}

// AttemptRecord describes one finished attempt.
type AttemptRecord struct {
	RunID   string
	Name    string
	Attempt uint // zero-based
	Outcome Outcome
	Err     error
	Start   time.Time
	End     time.Time
	// NextDelay is the backoff that will be waited before the next attempt.
	// It is zero when the run stops after this attempt.
	NextDelay time.Duration
}

// Summary describes how a run settled. Err is nil on success; otherwise it is
// the *Error returned to the caller.
type Summary struct {
	RunID    string
	Name     string
	Attempts int
	State    State // terminal state the run settled in
	Err      error
	Start    time.Time
	End      time.Time
}

// Succeeded reports whether the run produced a value.
func (s Summary) Succeeded() bool {
	return s.Err == nil
}

// Kind returns the failure kind, or 0 on success.
func (s Summary) Kind() Kind {
	return KindOf(s.Err)
}

// Observer receives a side channel of run events, for logging, metrics and tracing.
// Methods are called synchronously from the goroutine driving the run, so they
// should return quickly. Observers never influence the outcome of a run.
type Observer interface {
	OnStart(ctx context.Context, info RunInfo)
	OnAttempt(ctx context.Context, rec AttemptRecord)
	OnSettled(ctx context.Context, sum Summary)
}

// NoopObserver ignores all events.
type NoopObserver struct{}

func (NoopObserver) OnStart(context.Context, RunInfo)         {}
func (NoopObserver) OnAttempt(context.Context, AttemptRecord) {}
func (NoopObserver) OnSettled(context.Context, Summary)       {}

// Observers fans events out to every non-nil observer, in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))

	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}

	return out
}

type multiObserver []Observer

func (m multiObserver) OnStart(ctx context.Context, info RunInfo) {
	for _, o := range m {
		o.OnStart(ctx, info)
	}
}

func (m multiObserver) OnAttempt(ctx context.Context, rec AttemptRecord) {
	for _, o := range m {
		o.OnAttempt(ctx, rec)
	}
}

func (m multiObserver) OnSettled(ctx context.Context, sum Summary) {
	for _, o := range m {
		o.OnSettled(ctx, sum)
	}
}
