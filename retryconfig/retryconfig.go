// Package retryconfig builds retry policies from YAML files and environment variables.
//
// A policy file looks like:
//
//	max_attempts: 5
//	per_attempt_timeout: 2s
//	overall_deadline: 30s
//	backoff:
//	  kind: exponential
//	  base: 100ms
//	  max: 5s
//	  factor: 2
//	  jitter: 1.0
//
// Durations use Go syntax; a bare integer is read as milliseconds. Timeouts and
// deadlines that are present must be positive; leave them out to disable them.
package retryconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/amp-labs/amp-retry/envutil"
	"github.com/amp-labs/amp-retry/retry"
	"gopkg.in/yaml.v3"
)

const defaultExpFactor = 2.0

var (
	ErrUnknownBackoff = errors.New("unknown backoff kind")
	ErrNotPositive    = errors.New("must be positive when provided")
	ErrBadJitter      = errors.New("jitter must be between 0 and 1")
	ErrFactorTooSmall = errors.New("factor must be at least 1")
)

// Default is the policy used when nothing is configured: three attempts, no
// timeouts and no backoff.
func Default() retry.Policy {
	return retry.Policy{MaxAttempts: 3} //nolint:mnd
}

// Duration is a time.Duration that unmarshals from "250ms" style strings or
// from a bare integer number of milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}

	parsed, err := envutil.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*d = Duration(parsed)

	return nil
}

// Config is the file representation of a policy. Pointer fields distinguish
// "absent" from an explicit zero.
type Config struct {
	MaxAttempts       *int           `yaml:"max_attempts"`
	PerAttemptTimeout *Duration      `yaml:"per_attempt_timeout"`
	OverallDeadline   *Duration      `yaml:"overall_deadline"`
	Backoff           *BackoffConfig `yaml:"backoff"`
}

// BackoffConfig selects a backoff strategy. Kind is one of none, constant or
// exponential.
type BackoffConfig struct {
	Kind   string   `yaml:"kind"`
	Base   Duration `yaml:"base"`
	Max    Duration `yaml:"max"`
	Factor float64  `yaml:"factor"`
	Jitter float64  `yaml:"jitter"`
}

// Policy overlays the config on base and validates the result.
func (c Config) Policy(base retry.Policy) (retry.Policy, error) {
	policy := base

	if c.MaxAttempts != nil {
		policy.MaxAttempts = *c.MaxAttempts
	}

	if c.PerAttemptTimeout != nil {
		if *c.PerAttemptTimeout <= 0 {
			return retry.Policy{}, invalid("per_attempt_timeout", ErrNotPositive)
		}

		policy.PerAttemptTimeout = time.Duration(*c.PerAttemptTimeout)
	}

	if c.OverallDeadline != nil {
		if *c.OverallDeadline <= 0 {
			return retry.Policy{}, invalid("overall_deadline", ErrNotPositive)
		}

		policy.OverallDeadline = time.Duration(*c.OverallDeadline)
	}

	if c.Backoff != nil {
		backoff, err := c.Backoff.Build()
		if err != nil {
			return retry.Policy{}, err
		}

		policy.Backoff = backoff
	}

	if err := policy.Validate(); err != nil {
		return retry.Policy{}, err
	}

	return policy, nil
}

// Build returns the configured backoff, or nil for kind none.
func (b BackoffConfig) Build() (retry.Backoff, error) {
	var backoff retry.Backoff

	switch strings.ToLower(strings.TrimSpace(b.Kind)) {
	case "", "none":
		return nil, nil //nolint:nilnil
	case "constant":
		if b.Base <= 0 {
			return nil, invalid("backoff.base", ErrNotPositive)
		}

		backoff = retry.Constant(b.Base)
	case "exponential", "exp":
		if b.Base <= 0 {
			return nil, invalid("backoff.base", ErrNotPositive)
		}

		factor := b.Factor
		if factor == 0 {
			factor = defaultExpFactor
		}

		if factor < 1 {
			return nil, invalid("backoff.factor", fmt.Errorf("%w, got %v", ErrFactorTooSmall, factor))
		}

		if b.Max < 0 {
			return nil, invalid("backoff.max", ErrNotPositive)
		}

		backoff = retry.ExpBackoff{
			Base:   time.Duration(b.Base),
			Max:    time.Duration(b.Max),
			Factor: factor,
		}
	default:
		return nil, invalid("backoff.kind", fmt.Errorf("%w: %q", ErrUnknownBackoff, b.Kind))
	}

	switch {
	case b.Jitter == 0:
		return backoff, nil
	case b.Jitter < 0 || b.Jitter > 1:
		return nil, invalid("backoff.jitter", fmt.Errorf("%w, got %v", ErrBadJitter, b.Jitter))
	default:
		return retry.WithJitter(backoff, retry.Jitter(b.Jitter)), nil
	}
}

func invalid(field string, err error) error {
	return fmt.Errorf("%w: %s %w", retry.ErrInvalidConfiguration, field, err)
}

// ParsePolicy parses a YAML policy document on top of Default. Unknown keys
// are rejected so that typos do not silently fall back to defaults.
func ParsePolicy(data []byte) (retry.Policy, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return retry.Policy{}, fmt.Errorf("%w: %w", retry.ErrInvalidConfiguration, err)
	}

	return cfg.Policy(Default())
}

// LoadPolicyFile reads and parses a YAML policy file.
func LoadPolicyFile(path string) (retry.Policy, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the intended file to load
	if err != nil {
		return retry.Policy{}, err
	}

	policy, err := ParsePolicy(data)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("%s: %w", path, err)
	}

	return policy, nil
}

// PolicyFromEnv reads a policy from <prefix>_* environment variables on top of
// Default. See FromSource for the variable names.
func PolicyFromEnv(prefix string) (retry.Policy, error) {
	return FromSource(envutil.OS.Prefixed(prefix), Default())
}

// FromSource overlays values from src onto base:
//   - MAX_ATTEMPTS
//   - PER_ATTEMPT_TIMEOUT, OVERALL_DEADLINE
//   - BACKOFF (none, constant or exponential), BACKOFF_BASE, BACKOFF_MAX, BACKOFF_FACTOR
//   - JITTER (0 to 1)
//
// Variables that are not set leave base untouched.
func FromSource(src envutil.Source, base retry.Policy) (retry.Policy, error) {
	var (
		cfg  Config
		errs []error
	)

	if v, ok := read(src.Int("MAX_ATTEMPTS"), &errs); ok {
		cfg.MaxAttempts = &v
	}

	if v, ok := read(src.Duration("PER_ATTEMPT_TIMEOUT"), &errs); ok {
		d := Duration(v)
		cfg.PerAttemptTimeout = &d
	}

	if v, ok := read(src.Duration("OVERALL_DEADLINE"), &errs); ok {
		d := Duration(v)
		cfg.OverallDeadline = &d
	}

	if kind, ok := read(src.String("BACKOFF"), &errs); ok {
		bc := &BackoffConfig{Kind: kind}

		if v, ok := read(src.Duration("BACKOFF_BASE"), &errs); ok {
			bc.Base = Duration(v)
		}

		if v, ok := read(src.Duration("BACKOFF_MAX"), &errs); ok {
			bc.Max = Duration(v)
		}

		if v, ok := read(src.Float64("BACKOFF_FACTOR"), &errs); ok {
			bc.Factor = v
		}

		if v, ok := read(src.Float64("JITTER"), &errs); ok {
			bc.Jitter = v
		}

		cfg.Backoff = bc
	}

	if len(errs) > 0 {
		return retry.Policy{}, fmt.Errorf("%w: %w", retry.ErrInvalidConfiguration, errors.Join(errs...))
	}

	return cfg.Policy(base)
}

// read returns the reader's value if it is set, collecting parse errors.
func read[T any](rdr envutil.Reader[T], errs *[]error) (T, bool) {
	val, err := rdr.Value()

	if rdr.HasError() {
		*errs = append(*errs, err)

		return val, false
	}

	return val, rdr.HasValue()
}
