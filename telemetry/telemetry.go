// Package telemetry installs an OTLP trace exporter as the global
// OpenTelemetry tracer provider, configured from OTEL_* variables.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amp-labs/amp-retry/envutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	defaultServiceVersion = "dev"
	defaultTimeout        = 5 * time.Second
	defaultSampleRatio    = 1.0
)

var ErrBadSampleRatio = errors.New("sample ratio must be between 0 and 1")

var (
	mut            sync.Mutex                //nolint:gochecknoglobals
	tracerProvider *sdktrace.TracerProvider //nolint:gochecknoglobals
)

// Config holds the OpenTelemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Enabled        bool
	Timeout        time.Duration
	// SampleRatio is the fraction of root spans kept, between 0 and 1.
	// Child spans follow their parent's decision.
	SampleRatio float64
}

// LoadConfigFromEnv reads the configuration from the process environment.
// serviceName is used when OTEL_SERVICE_NAME is not set.
func LoadConfigFromEnv(serviceName string) (*Config, error) {
	return ConfigFromSource(envutil.OS, serviceName)
}

// ConfigFromSource reads:
//   - OTEL_ENABLED (default false)
//   - OTEL_SERVICE_NAME, OTEL_SERVICE_VERSION, ENVIRONMENT
//   - OTEL_EXPORTER_OTLP_TRACES_ENDPOINT, OTEL_EXPORTER_OTLP_TRACES_TIMEOUT
//   - OTEL_TRACES_SAMPLE_RATIO (default 1)
func ConfigFromSource(src envutil.Source, serviceName string) (*Config, error) {
	enabled, err := src.Bool("OTEL_ENABLED", envutil.Default(false)).Value()
	if err != nil {
		return nil, err
	}

	svcName, err := src.String("OTEL_SERVICE_NAME", envutil.Default(serviceName)).Value()
	if err != nil {
		return nil, err
	}

	svcVersion, err := src.String("OTEL_SERVICE_VERSION", envutil.Default(defaultServiceVersion)).Value()
	if err != nil {
		return nil, err
	}

	environment := src.String("ENVIRONMENT").ValueOrElse("")

	endpoint := src.String("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT").ValueOrElse("")

	timeout, err := src.Duration("OTEL_EXPORTER_OTLP_TRACES_TIMEOUT",
		envutil.Default(defaultTimeout),
		envutil.Validate(envutil.NonNegative[time.Duration])).
		Value()
	if err != nil {
		return nil, err
	}

	ratio, err := src.Float64("OTEL_TRACES_SAMPLE_RATIO",
		envutil.Default(defaultSampleRatio),
		envutil.Validate(validRatio)).
		Value()
	if err != nil {
		return nil, err
	}

	return &Config{
		ServiceName:    svcName,
		ServiceVersion: svcVersion,
		Environment:    environment,
		Endpoint:       endpoint,
		Enabled:        enabled,
		Timeout:        timeout,
		SampleRatio:    ratio,
	}, nil
}

func validRatio(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w, got %v", ErrBadSampleRatio, v)
	}

	return nil
}

// Initialize sets up OpenTelemetry tracing with the given configuration. It
// is a no-op when tracing is disabled or no endpoint is configured, in which
// case the global provider stays the no-op default.
func Initialize(ctx context.Context, config *Config) error {
	if !config.Enabled {
		slog.Debug("OpenTelemetry tracing is disabled")

		return nil
	}

	if config.Endpoint == "" {
		slog.Warn("OpenTelemetry endpoint not configured, tracing will be disabled")

		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(config.Endpoint),
		otlptracehttp.WithTimeout(config.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRatio))),
	)

	mut.Lock()
	previous := tracerProvider
	tracerProvider = provider
	mut.Unlock()

	if previous != nil {
		_ = previous.Shutdown(ctx)
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("OpenTelemetry tracing initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"environment", config.Environment,
		"endpoint", config.Endpoint,
		"sample_ratio", config.SampleRatio,
	)

	return nil
}

// Shutdown flushes pending spans and stops the provider installed by
// Initialize. It is safe to call when tracing was never initialized.
func Shutdown(ctx context.Context) error {
	mut.Lock()
	provider := tracerProvider
	tracerProvider = nil
	mut.Unlock()

	if provider == nil {
		return nil
	}

	slog.Debug("Shutting down OpenTelemetry tracer provider")

	return provider.Shutdown(ctx)
}
