package retry

import "context"

// ctxKey is the type for context keys used internally to avoid collisions.
type ctxKey string

const (
	attemptKey ctxKey = "attempt"
	runIDKey   ctxKey = "run_id"
	tokenKey   ctxKey = "token"
)

// withAttempt adds the attempt number, run ID and cancellation token to the
// attempt context. This allows the operation being retried to know which
// attempt it is on.
func withAttempt(ctx context.Context, attempt uint, runID string, tok *Token) context.Context {
	ctx = context.WithValue(ctx, attemptKey, attempt)
	ctx = context.WithValue(ctx, runIDKey, runID)

	return context.WithValue(ctx, tokenKey, tok)
}

// Attempt retrieves the zero-based attempt index from the context.
// Returns 0 if no attempt number is stored in the context.
//
// Example:
//
//	_, err := retry.Run(ctx, policy, func(ctx context.Context) (string, error) {
//	    slog.Info("calling upstream", "attempt", retry.Attempt(ctx))
//	    return callUpstream(ctx)
//	})
func Attempt(ctx context.Context) uint {
	attemptNum, ok := ctx.Value(attemptKey).(uint)
	if !ok {
		return 0
	}

	return attemptNum
}

// RunID returns the identifier of the run the attempt belongs to, or "" outside a run.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)

	return id
}

// TokenFrom returns the cancellation token of the current attempt.
func TokenFrom(ctx context.Context) (*Token, bool) {
	tok, ok := ctx.Value(tokenKey).(*Token)

	return tok, ok && tok != nil
}
