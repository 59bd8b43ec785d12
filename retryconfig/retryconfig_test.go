package retryconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amp-labs/amp-retry/envutil"
	"github.com/amp-labs/amp-retry/retry"
	"github.com/amp-labs/amp-retry/retryconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	policy, err := retryconfig.ParsePolicy([]byte(`
max_attempts: 5
per_attempt_timeout: 2s
overall_deadline: 30000
backoff:
  kind: exponential
  base: 100ms
  max: 5s
  factor: 3
`))
	require.NoError(t, err)

	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, policy.PerAttemptTimeout)
	assert.Equal(t, 30*time.Second, policy.OverallDeadline, "bare integers are milliseconds")
	assert.Equal(t, retry.ExpBackoff{Base: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 3}, policy.Backoff)
}

func TestParsePolicy_Defaults(t *testing.T) {
	t.Parallel()

	policy, err := retryconfig.ParsePolicy(nil)
	require.NoError(t, err)
	assert.Equal(t, retryconfig.Default(), policy)

	policy, err = retryconfig.ParsePolicy([]byte("backoff:\n  kind: constant\n  base: 50ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, retry.Constant(50*time.Millisecond), policy.Backoff)
	assert.Zero(t, policy.PerAttemptTimeout)
	assert.Zero(t, policy.OverallDeadline)
}

func TestParsePolicy_Jitter(t *testing.T) {
	t.Parallel()

	policy, err := retryconfig.ParsePolicy([]byte("backoff:\n  kind: constant\n  base: 1s\n  jitter: 0.5\n"))
	require.NoError(t, err)

	for i := range uint(20) {
		d := policy.Backoff.Delay(i)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"zero attempts", "max_attempts: 0"},
		{"explicit zero timeout", "per_attempt_timeout: 0"},
		{"negative deadline", "overall_deadline: -1s"},
		{"unparseable duration", "per_attempt_timeout: soon"},
		{"unknown key", "max_attempt: 3"},
		{"unknown backoff", "backoff:\n  kind: fibonacci\n  base: 1s"},
		{"constant without base", "backoff:\n  kind: constant"},
		{"shrinking factor", "backoff:\n  kind: exponential\n  base: 1s\n  factor: 0.5"},
		{"jitter out of range", "backoff:\n  kind: constant\n  base: 1s\n  jitter: 2"},
		{"not yaml", "max_attempts: [1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := retryconfig.ParsePolicy([]byte(tt.doc))
			require.ErrorIs(t, err, retry.ErrInvalidConfiguration)
		})
	}
}

func TestLoadPolicyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_attempts: 2\nper_attempt_timeout: 150ms\n"), 0o600))

	policy, err := retryconfig.LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, policy.MaxAttempts)
	assert.Equal(t, 150*time.Millisecond, policy.PerAttemptTimeout)

	_, err = retryconfig.LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFromSource(t *testing.T) {
	t.Parallel()

	src := envutil.FromMap(map[string]string{
		"PROBE_MAX_ATTEMPTS":        "4",
		"PROBE_PER_ATTEMPT_TIMEOUT": "100",
		"PROBE_OVERALL_DEADLINE":    "1m",
		"PROBE_BACKOFF":             "exponential",
		"PROBE_BACKOFF_BASE":        "10ms",
		"PROBE_BACKOFF_MAX":         "1s",
	}).Prefixed("PROBE")

	policy, err := retryconfig.FromSource(src, retryconfig.Default())
	require.NoError(t, err)

	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, policy.PerAttemptTimeout)
	assert.Equal(t, time.Minute, policy.OverallDeadline)
	assert.Equal(t, retry.ExpBackoff{Base: 10 * time.Millisecond, Max: time.Second, Factor: 2}, policy.Backoff)
}

func TestFromSource_KeepsBase(t *testing.T) {
	t.Parallel()

	base := retry.Policy{MaxAttempts: 9, PerAttemptTimeout: time.Second}

	policy, err := retryconfig.FromSource(envutil.FromMap(nil), base)
	require.NoError(t, err)
	assert.Equal(t, base, policy)
}

func TestFromSource_Errors(t *testing.T) {
	t.Parallel()

	_, err := retryconfig.FromSource(envutil.FromMap(map[string]string{
		"MAX_ATTEMPTS":        "many",
		"PER_ATTEMPT_TIMEOUT": "later",
	}), retryconfig.Default())

	require.ErrorIs(t, err, retry.ErrInvalidConfiguration)
	require.ErrorIs(t, err, envutil.ErrBadEnvVar)
	assert.Contains(t, err.Error(), "MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "PER_ATTEMPT_TIMEOUT")

	_, err = retryconfig.FromSource(envutil.FromMap(map[string]string{
		"OVERALL_DEADLINE": "0",
	}), retryconfig.Default())
	require.ErrorIs(t, err, retryconfig.ErrNotPositive)
}

func TestPolicyFromEnv(t *testing.T) { //nolint:paralleltest
	t.Setenv("RETRYCONFIG_TEST_MAX_ATTEMPTS", "6")

	policy, err := retryconfig.PolicyFromEnv("RETRYCONFIG_TEST")
	require.NoError(t, err)
	assert.Equal(t, 6, policy.MaxAttempts)
}
