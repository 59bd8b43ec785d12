package observe_test

import (
	"context"
	"errors"
	"testing"

	"github.com/amp-labs/amp-retry/retry"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

var errFlaky = errors.New("flaky") //nolint:err113 // Test error

// flaky fails the first n invocations and then returns "ok".
func flaky(n int32) retry.Operation[string] {
	calls := atomic.NewInt32(0)

	return func(context.Context) (string, error) {
		if calls.Inc() <= n {
			return "", errFlaky
		}

		return "ok", nil
	}
}

func runWith(t *testing.T, obs retry.Observer, policy retry.Policy, op retry.Operation[string], opts ...retry.Option) error {
	t.Helper()

	opts = append(opts, retry.WithObserver(obs))

	val, err := retry.Run(t.Context(), policy, op, opts...)
	if err == nil {
		require.Equal(t, "ok", val)
	}

	return err
}

func blockUntilDone(ctx context.Context) (string, error) {
	<-ctx.Done()

	return "", context.Cause(ctx)
}
