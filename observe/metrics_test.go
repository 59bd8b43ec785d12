package observe_test

import (
	"strings"
	"testing"
	"time"

	"github.com/amp-labs/amp-retry/observe"
	"github.com/amp-labs/amp-retry/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)

	require.NoError(t, runWith(t, metrics, retry.Policy{MaxAttempts: 3}, flaky(2), retry.WithName("db")))
	require.Error(t, runWith(t, metrics, retry.Policy{MaxAttempts: 2}, flaky(9), retry.WithName("db")))

	expected := `
# HELP amp_retry_attempts_total Total number of attempts by name and outcome
# TYPE amp_retry_attempts_total counter
amp_retry_attempts_total{name="db",outcome="failure"} 4
amp_retry_attempts_total{name="db",outcome="success"} 1
# HELP amp_retry_in_flight Number of retry runs that have started but not settled
# TYPE amp_retry_in_flight gauge
amp_retry_in_flight{name="db"} 0
# HELP amp_retry_runs_total Total number of settled retry runs by name and result
# TYPE amp_retry_runs_total counter
amp_retry_runs_total{name="db",result="OperationFailure"} 1
amp_retry_runs_total{name="db",result="success"} 1
`

	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"amp_retry_attempts_total", "amp_retry_in_flight", "amp_retry_runs_total")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "amp_retry_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_InvalidConfigurationCounted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)

	err := runWith(t, metrics, retry.Policy{MaxAttempts: 0}, flaky(0))
	require.ErrorIs(t, err, retry.ErrInvalidConfiguration)

	count, err := testutil.GatherAndCount(reg, "amp_retry_attempts_total")
	require.NoError(t, err)
	assert.Zero(t, count)

	expected := `
# HELP amp_retry_runs_total Total number of settled retry runs by name and result
# TYPE amp_retry_runs_total counter
amp_retry_runs_total{name="unnamed",result="InvalidConfiguration"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "amp_retry_runs_total"))
}

func TestMetrics_TimedOut(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)

	err := runWith(t, metrics, retry.Policy{MaxAttempts: 1, PerAttemptTimeout: 10 * time.Millisecond},
		blockUntilDone, retry.WithName("slow"))
	require.ErrorIs(t, err, retry.ErrTimeoutExceeded)

	expected := `
# HELP amp_retry_attempts_total Total number of attempts by name and outcome
# TYPE amp_retry_attempts_total counter
amp_retry_attempts_total{name="slow",outcome="timed_out"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "amp_retry_attempts_total"))
}

func TestResult(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", observe.Result(retry.Summary{}))
	assert.Equal(t, "DeadlineExceeded", observe.Result(retry.Summary{
		Err: &retry.Error{Kind: retry.KindDeadlineExceeded},
	}))
}

func TestDefaultMetrics(t *testing.T) {
	t.Parallel()

	metrics := observe.DefaultMetrics()
	require.Same(t, metrics, observe.DefaultMetrics(), "registered once per process")

	require.NoError(t, runWith(t, metrics, retry.Policy{MaxAttempts: 2}, flaky(1), retry.WithName("default-registry")))

	expected := `
# HELP amp_retry_runs_total Total number of settled retry runs by name and result
# TYPE amp_retry_runs_total counter
amp_retry_runs_total{name="default-registry",result="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(prometheus.DefaultGatherer, strings.NewReader(expected), "amp_retry_runs_total"))
}
