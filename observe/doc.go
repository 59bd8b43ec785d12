// Package observe provides retry.Observer implementations for structured
// logging, Prometheus metrics and OpenTelemetry tracing.
//
// Observers are passed to a run with retry.WithObserver and combined with
// retry.Observers:
//
//	obs := retry.Observers(
//	    observe.Logging{},
//	    observe.DefaultMetrics(),
//	    observe.NewTracing(otel.Tracer("retry")),
//	)
//
//	val, err := retry.Run(ctx, policy, op, retry.WithObserver(obs), retry.WithName("db"))
package observe
