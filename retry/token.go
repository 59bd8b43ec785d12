package retry

import (
	"context"
	"errors"

	"go.uber.org/atomic"
)

// errAttemptSettled cancels the attempt context once the executor is done with an
// attempt that was not abandoned. It never reaches the caller.
var errAttemptSettled = errors.New("attempt settled")

// Token is the cancellation handle of a single attempt. A fresh token is created
// for every attempt and only the executor signals it. Signaling is advisory: the
// operation is expected to watch Done (or its context) and stop on its own.
//
// Once signaled, a token stays signaled. It is never reused for another attempt.
//
// Example:
//
//	op := func(ctx context.Context) (int, error) {
//	    tok, _ := retry.TokenFrom(ctx)
//	    stop := tok.OnSignaled(func() { conn.Close() })
//	    defer stop()
//
//	    return conn.ReadCount()
//	}
type Token struct {
	ctx    context.Context //nolint:containedctx
	cancel context.CancelCauseFunc

	// sig is only ever canceled by signal, unlike ctx which is also released
	// when the attempt settles normally.
	sig       context.Context //nolint:containedctx
	sigCancel context.CancelCauseFunc

	signaled *atomic.Bool
}

func newToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	sig, sigCancel := context.WithCancelCause(context.Background())

	return &Token{
		ctx:       ctx,
		cancel:    cancel,
		sig:       sig,
		sigCancel: sigCancel,
		signaled:  atomic.NewBool(false),
	}
}

// Context returns the attempt context. It is canceled when the token is
// signaled, and released once the executor has finished with the attempt.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done returns a channel that is closed when the token is signaled.
func (t *Token) Done() <-chan struct{} {
	return t.sig.Done()
}

// Signaled reports whether the executor has abandoned this attempt.
func (t *Token) Signaled() bool {
	return t.signaled.Load()
}

// Cause returns why the token was signaled (for example ErrAttemptTimeout),
// or nil if it has not been signaled.
func (t *Token) Cause() error {
	if !t.Signaled() {
		return nil
	}

	return context.Cause(t.sig)
}

// OnSignaled arranges for f to run in its own goroutine once the token is
// signaled. If the token is already signaled, f runs right away. The returned
// stop function unregisters f and reports whether it did so before f ran.
func (t *Token) OnSignaled(f func()) (stop func() bool) {
	return context.AfterFunc(t.sig, f)
}

// signal marks the token as signaled with the given cause. Only the first call
// has an effect.
func (t *Token) signal(cause error) bool {
	if !t.signaled.CompareAndSwap(false, true) {
		return false
	}

	t.sigCancel(cause)
	t.cancel(cause)

	return true
}

// release frees the attempt context without signaling the token.
func (t *Token) release() {
	t.cancel(errAttemptSettled)
}
