// Package fanout runs many independent retry runs on a bounded worker pool.
//
// Every job gets its own run with its own attempt count, timers and deadline.
// A failing job never cancels its siblings; cancel the context to stop all of
// them.
package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-retry/retry"
)

// Job is one named operation to run under the shared policy.
type Job[T any] struct {
	Name string
	Op   retry.Operation[T]
}

// Result is the settled outcome of a Job.
type Result[T any] struct {
	Name  string
	Value T
	Err   error
}

// Run executes every job under policy using at most concurrency workers. If
// concurrency is less than 1 all jobs run at once.
//
// Results are returned in the order of jobs, including the ones that failed.
// The returned error is nil when every job succeeded; otherwise it joins each
// failure prefixed with its job name. An invalid policy is reported once,
// before any job starts, and no results are returned.
//
// opts apply to every run, so a retry.Budget passed here is shared by all
// jobs. Each run is named after its job; do not pass retry.WithRunID.
func Run[T any](
	ctx context.Context,
	policy retry.Policy,
	jobs []Job[T],
	concurrency int,
	opts ...retry.Option,
) ([]Result[T], error) {
	if err := policy.Validate(); err != nil {
		return nil, &retry.Error{Kind: retry.KindInvalidConfiguration, Last: err}
	}

	if len(jobs) == 0 {
		return nil, nil
	}

	if concurrency < 1 || concurrency > len(jobs) {
		concurrency = len(jobs)
	}

	pool := pond.NewPool(concurrency)
	results := make([]Result[T], len(jobs))

	for i, job := range jobs {
		pool.Submit(func() {
			runOpts := append(append([]retry.Option(nil), opts...), retry.WithName(job.Name))

			val, err := retry.Run(ctx, policy, job.Op, runOpts...)

			results[i] = Result[T]{Name: job.Name, Value: val, Err: err}
		})
	}

	pool.StopAndWait()

	var errs []error

	for i, res := range results {
		if res.Err == nil {
			continue
		}

		name := res.Name
		if name == "" {
			name = fmt.Sprintf("job %d", i)
		}

		errs = append(errs, fmt.Errorf("%s: %w", name, res.Err))
	}

	return results, errors.Join(errs...)
}

// Values returns the values of the successful results, in order.
func Values[T any](results []Result[T]) []T {
	out := make([]T, 0, len(results))

	for _, res := range results {
		if res.Err == nil {
			out = append(out, res.Value)
		}
	}

	return out
}
