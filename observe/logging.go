package observe

import (
	"context"
	"log/slog"

	"github.com/amp-labs/amp-retry/logger"
	"github.com/amp-labs/amp-retry/retry"
)

// Logging writes run events to slog. When Logger is nil the context logger
// from logger.Get is used, so subsystem and context values are carried along.
type Logging struct {
	Logger *slog.Logger

	// Quiet suppresses the start and success lines; failures are still logged.
	Quiet bool
}

var _ retry.Observer = Logging{}

func (l Logging) log(ctx context.Context) *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}

	return logger.Get(ctx)
}

func (l Logging) OnStart(ctx context.Context, info retry.RunInfo) {
	if l.Quiet {
		return
	}

	l.log(ctx).DebugContext(ctx, "retry run started",
		"run_id", info.RunID,
		"name", info.Name,
		"max_attempts", info.Policy.MaxAttempts,
		"per_attempt_timeout", info.Policy.PerAttemptTimeout,
		"overall_deadline", info.Policy.OverallDeadline)
}

func (l Logging) OnAttempt(ctx context.Context, rec retry.AttemptRecord) {
	if rec.Outcome == retry.OutcomeSuccess {
		return
	}

	args := []any{
		"run_id", rec.RunID,
		"name", rec.Name,
		"attempt", rec.Attempt + 1,
		"outcome", rec.Outcome.String(),
		"duration", rec.End.Sub(rec.Start),
	}

	if rec.Err != nil {
		args = append(args, "error", rec.Err)
	}

	if rec.NextDelay > 0 {
		args = append(args, "next_delay", rec.NextDelay)
	}

	l.log(ctx).WarnContext(ctx, "retry attempt failed", args...)
}

func (l Logging) OnSettled(ctx context.Context, sum retry.Summary) {
	args := []any{
		"run_id", sum.RunID,
		"name", sum.Name,
		"attempts", sum.Attempts,
		"state", sum.State.String(),
		"elapsed", sum.End.Sub(sum.Start),
	}

	if sum.Succeeded() {
		if !l.Quiet {
			l.log(ctx).InfoContext(ctx, "retry run succeeded", args...)
		}

		return
	}

	args = append(args, "kind", sum.Kind().String(), "error", sum.Err)

	l.log(ctx).ErrorContext(ctx, "retry run failed", args...)
}
