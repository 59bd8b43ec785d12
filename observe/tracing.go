package observe

import (
	"context"
	"sync"

	"github.com/amp-labs/amp-retry/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/amp-labs/amp-retry"

// Tracing opens one span per run and records each attempt as a span event.
// The span is a child of whatever span is active in the run's context.
type Tracing struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

var _ retry.Observer = (*Tracing)(nil)

// NewTracing returns a tracing observer. A nil tracer uses the global
// provider, which telemetry.Initialize configures.
func NewTracing(tracer trace.Tracer) *Tracing {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Tracing{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

//nolint:spancheck // Span is ended in OnSettled
func (t *Tracing) OnStart(ctx context.Context, info retry.RunInfo) {
	spanName := "retry.run"
	if info.Name != "" {
		spanName = "retry." + info.Name
	}

	_, span := t.tracer.Start(ctx, spanName, trace.WithTimestamp(info.Start))
	span.SetAttributes(
		attribute.String("retry.run_id", info.RunID),
		attribute.String("retry.name", info.Name),
		attribute.Int("retry.max_attempts", info.Policy.MaxAttempts),
		attribute.String("retry.per_attempt_timeout", info.Policy.PerAttemptTimeout.String()),
		attribute.String("retry.overall_deadline", info.Policy.OverallDeadline.String()),
	)

	t.mu.Lock()
	t.spans[info.RunID] = span
	t.mu.Unlock()
}

func (t *Tracing) OnAttempt(_ context.Context, rec retry.AttemptRecord) {
	span := t.span(rec.RunID)
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("retry.attempt", int(rec.Attempt)+1), //nolint:gosec // attempt counts are small
		attribute.String("retry.outcome", rec.Outcome.String()),
		attribute.Int64("retry.duration_ms", rec.End.Sub(rec.Start).Milliseconds()),
	}

	if rec.Err != nil {
		attrs = append(attrs, attribute.String("error", rec.Err.Error()))
	}

	if rec.NextDelay > 0 {
		attrs = append(attrs, attribute.String("retry.next_delay", rec.NextDelay.String()))
	}

	span.AddEvent("attempt", trace.WithTimestamp(rec.End), trace.WithAttributes(attrs...))
}

func (t *Tracing) OnSettled(_ context.Context, sum retry.Summary) {
	t.mu.Lock()
	span := t.spans[sum.RunID]
	delete(t.spans, sum.RunID)
	t.mu.Unlock()

	if span == nil {
		return
	}

	span.SetAttributes(
		attribute.Int("retry.attempts", sum.Attempts),
		attribute.String("retry.state", sum.State.String()),
		attribute.String("retry.result", Result(sum)),
	)

	if sum.Succeeded() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(sum.Err)
		span.SetStatus(codes.Error, sum.Err.Error())
	}

	span.End(trace.WithTimestamp(sum.End))
}

func (t *Tracing) span(runID string) trace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.spans[runID]
}
