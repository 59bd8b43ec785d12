package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/amp-labs/amp-retry/retry"
)

var (
	errNoTargets  = errors.New("at least one target is required")
	errBadBackoff = errors.New("backoff must be none, constant:<delay> or exp:<base>[:<max>]")
)

// CLIConfig holds command-line configuration. Zero values mean "not set on
// the command line" and leave the policy from file or environment alone.
type CLIConfig struct {
	ConfigPath  string
	EnvFile     string
	Attempts    int
	Timeout     time.Duration
	Deadline    time.Duration
	Backoff     string
	Concurrency int
	MetricsAddr string
	Quiet       bool
	Targets     []string
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML retry policy file")
	fs.StringVar(&cfg.EnvFile, "env-file", "", "env file (.env, .json or .yaml) applied before reading RETRYPROBE_* variables")
	fs.IntVar(&cfg.Attempts, "attempts", 0, "maximum attempts per target, including the first")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "per-attempt timeout")
	fs.DurationVar(&cfg.Deadline, "deadline", 0, "overall deadline per target")
	fs.StringVar(&cfg.Backoff, "backoff", "", "backoff between attempts: none, constant:<delay> or exp:<base>[:<max>]")
	fs.IntVar(&cfg.Concurrency, "concurrency", 0, "targets probed at once, 0 for all")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while probing")
	fs.BoolVar(&cfg.Quiet, "quiet", false, "only log failures")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "Usage: %s [flags] target...\n\n", appName)
		_, _ = fmt.Fprintln(fs.Output(), "Waits until every target answers. Targets are URLs: http(s)://, tcp://,")
		_, _ = fmt.Fprintln(fs.Output(), "postgres://, nats:// or s3://. Exits 0 when all succeed, 1 when any fails,")
		_, _ = fmt.Fprintln(fs.Output(), "2 on usage or configuration errors.")
		_, _ = fmt.Fprintln(fs.Output())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Targets = fs.Args()
	if len(cfg.Targets) == 0 {
		fs.Usage()

		return nil, errNoTargets
	}

	return cfg, nil
}

// apply overlays the flags that were set onto policy.
func (c *CLIConfig) apply(policy retry.Policy) (retry.Policy, error) {
	if c.Attempts != 0 {
		policy.MaxAttempts = c.Attempts
	}

	if c.Timeout != 0 {
		policy.PerAttemptTimeout = c.Timeout
	}

	if c.Deadline != 0 {
		policy.OverallDeadline = c.Deadline
	}

	if c.Backoff != "" {
		backoff, err := parseBackoff(c.Backoff)
		if err != nil {
			return retry.Policy{}, err
		}

		policy.Backoff = backoff
	}

	return policy, nil
}

func parseBackoff(spec string) (retry.Backoff, error) {
	parts := strings.Split(spec, ":")

	durations := make([]time.Duration, 0, len(parts)-1)

	for _, part := range parts[1:] {
		d, err := time.ParseDuration(part)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %q", errBadBackoff, spec)
		}

		durations = append(durations, d)
	}

	switch {
	case parts[0] == "none" && len(durations) == 0:
		return nil, nil //nolint:nilnil
	case parts[0] == "constant" && len(durations) == 1:
		return retry.Constant(durations[0]), nil
	case parts[0] == "exp" && len(durations) == 1:
		return retry.ExpBackoff{Base: durations[0], Factor: 2}, nil //nolint:mnd
	case parts[0] == "exp" && len(durations) == 2: //nolint:mnd
		return retry.ExpBackoff{Base: durations[0], Max: durations[1], Factor: 2}, nil //nolint:mnd
	default:
		return nil, fmt.Errorf("%w: %q", errBadBackoff, spec)
	}
}
