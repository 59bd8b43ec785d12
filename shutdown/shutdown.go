// Package shutdown turns SIGINT and SIGTERM into context cancellation.
//
// The context returned by SetupHandler is canceled with a cause wrapping
// ErrShutdown, so retry runs driven by it settle as canceled and report which
// signal stopped them.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ErrShutdown is the cancellation cause of a context returned by SetupHandler.
var ErrShutdown = errors.New("shutdown requested")

var (
	mut     sync.Mutex     //nolint:gochecknoglobals
	hooks   []func()       //nolint:gochecknoglobals
	channel chan os.Signal //nolint:gochecknoglobals
)

// BeforeShutdown registers a function to be called before
// the context is canceled. Hooks run in registration order,
// once, and may still use the context.
func BeforeShutdown(h func()) {
	mut.Lock()
	defer mut.Unlock()

	hooks = append(hooks, h)
}

// Shutdown triggers the shutdown process programmatically,
// as if SIGINT had been received. It does nothing when no
// handler is installed.
func Shutdown() {
	mut.Lock()
	ch := channel
	mut.Unlock()

	if ch == nil {
		return
	}

	select {
	case ch <- os.Interrupt:
	default:
		// A signal is already pending.
	}
}

// SetupHandler installs a handler for SIGINT and SIGTERM and returns a child
// of parent that is canceled when one arrives. A second signal is left to the
// runtime's default handling, so pressing Ctrl-C twice still kills the process.
func SetupHandler(parent context.Context) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	mut.Lock()
	channel = ch
	mut.Unlock()

	go func() {
		var sig os.Signal

		select {
		case sig = <-ch:
		case <-ctx.Done():
		}

		signal.Stop(ch)

		mut.Lock()
		if channel == ch {
			channel = nil
		}
		mut.Unlock()

		if sig == nil {
			return
		}

		slog.Warn("Received " + sig.String() + ", shutting down...")

		cleanup()
		cancel(fmt.Errorf("%w: received %s", ErrShutdown, sig))
	}()

	return ctx
}

func cleanup() {
	mut.Lock()
	pending := hooks
	hooks = nil
	mut.Unlock()

	for _, h := range pending {
		h()
	}
}
