package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/amp-labs/amp-retry/envutil"
	"github.com/amp-labs/amp-retry/fanout"
	"github.com/amp-labs/amp-retry/logger"
	"github.com/amp-labs/amp-retry/observe"
	"github.com/amp-labs/amp-retry/probe"
	"github.com/amp-labs/amp-retry/retry"
	"github.com/amp-labs/amp-retry/retryconfig"
	"github.com/amp-labs/amp-retry/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second

	// Short enough that a restarted container's new address is picked up
	// within a typical wait.
	dnsRefreshInterval = 30 * time.Second
)

// run is main without the process exit, returning the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return exitUsage
	}

	if cli.EnvFile != "" {
		vars, err := envutil.LoadEnvFile(cli.EnvFile)
		if err == nil {
			err = envutil.Apply(vars, false)
		}

		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%s: env file: %v\n", appName, err)

			return exitUsage
		}
	}

	log, err := logger.ConfigureLogging(appName, logger.WithOutput(stderr))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", appName, err)

		return exitUsage
	}

	policy, err := resolvePolicy(cli)
	if err != nil {
		log.Error("Invalid retry policy", "error", err)

		return exitUsage
	}

	probes := make([]probe.Probe, 0, len(cli.Targets))

	for _, target := range cli.Targets {
		p, err := probe.Parse(target)
		if err != nil {
			log.Error("Invalid target", "target", target, "error", err)

			return exitUsage
		}

		probes = append(probes, p)
	}

	if err := startTracing(ctx); err != nil {
		log.Error("Failed to initialize tracing", "error", err)

		return exitUsage
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to flush traces", "error", err)
		}
	}()

	dnsCtx, stopDNS := context.WithCancel(ctx)
	defer stopDNS()

	go probe.RefreshDNS(dnsCtx, dnsRefreshInterval)

	summaries := &summaryRecorder{byRunID: make(map[string]retry.Summary)}

	observers := []retry.Observer{
		observe.Logging{Quiet: cli.Quiet},
		observe.NewTracing(nil),
		summaries,
	}

	if cli.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		observers = append(observers, observe.NewMetrics(reg))

		stop, err := serveMetrics(ctx, cli.MetricsAddr, reg)
		if err != nil {
			log.Error("Failed to start metrics server", "addr", cli.MetricsAddr, "error", err)

			return exitUsage
		}

		defer stop()
	}

	jobs := make([]fanout.Job[struct{}], len(probes))

	// Targets may repeat, so summaries are matched to jobs by run ID.
	runIDs := make([]atomic.String, len(probes))

	for i, p := range probes {
		jobs[i] = fanout.Job[struct{}]{
			Name: p.String(),
			Op: func(ctx context.Context) (struct{}, error) {
				runIDs[i].Store(retry.RunID(ctx))

				return struct{}{}, p.Check(ctx)
			},
		}
	}

	results, err := fanout.Run(ctx, policy, jobs, cli.Concurrency, retry.WithObserver(retry.Observers(observers...)))
	if retry.KindOf(err) == retry.KindInvalidConfiguration {
		log.Error("Invalid retry policy", "error", err)

		return exitUsage
	}

	report(stdout, results, runIDs, summaries)

	if err != nil {
		return exitFailed
	}

	return exitOK
}

// resolvePolicy layers the policy file, RETRYPROBE_* variables and flags.
func resolvePolicy(cli *CLIConfig) (retry.Policy, error) {
	policy := retryconfig.Default()

	if cli.ConfigPath != "" {
		var err error

		policy, err = retryconfig.LoadPolicyFile(cli.ConfigPath)
		if err != nil {
			return retry.Policy{}, err
		}
	}

	policy, err := retryconfig.FromSource(envutil.OS.Prefixed(envPrefix), policy)
	if err != nil {
		return retry.Policy{}, err
	}

	policy, err = cli.apply(policy)
	if err != nil {
		return retry.Policy{}, err
	}

	return policy, policy.Validate()
}

func startTracing(ctx context.Context) error {
	cfg, err := telemetry.LoadConfigFromEnv(appName)
	if err != nil {
		return err
	}

	return telemetry.Initialize(ctx, cfg)
}

// serveMetrics serves reg on addr until the returned stop function is called.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (func(), error) {
	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	slog.Debug("Serving metrics", "addr", lis.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

// summaryRecorder keeps the settled summary of each run by run ID, for the
// final report.
type summaryRecorder struct {
	retry.NoopObserver

	mu      sync.Mutex
	byRunID map[string]retry.Summary
}

func (s *summaryRecorder) OnSettled(_ context.Context, sum retry.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byRunID[sum.RunID] = sum
}

func (s *summaryRecorder) get(runID string) (retry.Summary, bool) {
	if runID == "" {
		return retry.Summary{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.byRunID[runID]

	return sum, ok
}

func report(out io.Writer, results []fanout.Result[struct{}], runIDs []atomic.String, summaries *summaryRecorder) {
	for i, res := range results {
		status := "ok"
		if res.Err != nil {
			status = "FAIL"
		}

		line := fmt.Sprintf("%-4s %s", status, res.Name)

		if sum, ok := summaries.get(runIDs[i].Load()); ok {
			line += fmt.Sprintf(" (attempts=%d elapsed=%s)", sum.Attempts, sum.End.Sub(sum.Start).Round(time.Millisecond))
		}

		if res.Err != nil {
			line += ": " + res.Err.Error()
		}

		_, _ = fmt.Fprintln(out, line)
	}
}
