package fanout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amp-labs/amp-retry/fanout"
	"github.com/amp-labs/amp-retry/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

var errDown = errors.New("down") //nolint:err113 // Test error

func value(v int) retry.Operation[int] {
	return func(context.Context) (int, error) {
		return v, nil
	}
}

func TestRun_OrderPreserved(t *testing.T) {
	t.Parallel()

	var jobs []fanout.Job[int]

	for i := range 20 {
		jobs = append(jobs, fanout.Job[int]{Name: "job", Op: func(context.Context) (int, error) {
			// Later jobs finish first.
			time.Sleep(time.Duration(20-i) * time.Millisecond)

			return i, nil
		}})
	}

	results, err := fanout.Run(t.Context(), retry.Policy{MaxAttempts: 1}, jobs, 5)
	require.NoError(t, err)
	require.Len(t, results, 20)

	for i, res := range results {
		assert.Equal(t, i, res.Value)
	}

	assert.Len(t, fanout.Values(results), 20)
}

func TestRun_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	var (
		running = atomic.NewInt32(0)
		peak    = atomic.NewInt32(0)
	)

	op := func(context.Context) (int, error) {
		n := running.Inc()
		defer running.Dec()

		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}

		time.Sleep(5 * time.Millisecond)

		return 0, nil
	}

	jobs := make([]fanout.Job[int], 30)
	for i := range jobs {
		jobs[i] = fanout.Job[int]{Op: op}
	}

	_, err := fanout.Run(t.Context(), retry.Policy{MaxAttempts: 1}, jobs, 3)
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestRun_FailuresAreIndependent(t *testing.T) {
	t.Parallel()

	calls := atomic.NewInt32(0)

	jobs := []fanout.Job[int]{
		{Name: "a", Op: value(1)},
		{Name: "b", Op: func(context.Context) (int, error) {
			calls.Inc()

			return 0, errDown
		}},
		{Name: "c", Op: value(3)},
	}

	results, err := fanout.Run(t.Context(), retry.Policy{MaxAttempts: 2}, jobs, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, retry.ErrOperationFailure)
	require.ErrorIs(t, err, errDown)
	assert.Contains(t, err.Error(), "b: ")

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []int{1, 3}, fanout.Values(results))
	assert.Equal(t, 2, results[1].Err.(*retry.Error).Attempts) //nolint:errorlint,forcetypeassert
}

func TestRun_InvalidPolicy(t *testing.T) {
	t.Parallel()

	calls := atomic.NewInt32(0)

	results, err := fanout.Run(t.Context(), retry.Policy{MaxAttempts: 0}, []fanout.Job[int]{
		{Op: func(context.Context) (int, error) {
			calls.Inc()

			return 0, nil
		}},
	}, 1)

	require.ErrorIs(t, err, retry.ErrInvalidConfiguration)
	assert.Nil(t, results)
	assert.Zero(t, calls.Load())
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	calls := atomic.NewInt32(0)
	op := func(context.Context) (int, error) {
		calls.Inc()

		return 0, nil
	}

	results, err := fanout.Run(ctx, retry.Policy{MaxAttempts: 3}, []fanout.Job[int]{{Op: op}, {Op: op}}, 1)
	require.ErrorIs(t, err, retry.ErrCanceled)
	assert.Zero(t, calls.Load())

	for _, res := range results {
		assert.Equal(t, retry.KindCanceled, retry.KindOf(res.Err))
	}
}

func TestRun_SharedBudget(t *testing.T) {
	t.Parallel()

	budget := &retry.Budget{Rate: 0, Ratio: 0}
	calls := atomic.NewInt32(0)

	op := func(context.Context) (int, error) {
		calls.Inc()

		return 0, errDown
	}

	jobs := []fanout.Job[int]{{Name: "a", Op: op}, {Name: "b", Op: op}, {Name: "c", Op: op}}

	_, err := fanout.Run(t.Context(), retry.Policy{MaxAttempts: 5}, jobs, 1, retry.WithBudget(budget))
	require.ErrorIs(t, err, retry.ErrBudgetExhausted)

	// The first job gets one retry; after that retries outnumber the allowed
	// ratio and the other jobs stop after their first attempt.
	assert.Equal(t, int32(4), calls.Load())
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()

	results, err := fanout.Run[int](t.Context(), retry.Policy{MaxAttempts: 1}, nil, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}
