package observe

import (
	"context"
	"sync"

	"github.com/amp-labs/amp-retry/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "amp"
	subsystem = "retry"
)

// Metrics records run and attempt counters, durations and in-flight runs.
type Metrics struct {
	runs            *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	attemptDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
}

var _ retry.Observer = (*Metrics)(nil)

// NewMetrics registers the retry metrics with reg. A nil reg creates the
// collectors without registering them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Total number of settled retry runs by name and result",
		}, []string{"name", "result"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts_total",
			Help:      "Total number of attempts by name and outcome",
		}, []string{"name", "outcome"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Duration of retry runs from start to settle",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"name", "result"}),
		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of individual attempts",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"name", "outcome"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "in_flight",
			Help:      "Number of retry runs that have started but not settled",
		}, []string{"name"}),
	}
}

// DefaultMetrics returns a Metrics registered with the default Prometheus
// registerer. It is created once per process.
var DefaultMetrics = sync.OnceValue(func() *Metrics { //nolint:gochecknoglobals
	return NewMetrics(prometheus.DefaultRegisterer)
})

func (m *Metrics) OnStart(_ context.Context, info retry.RunInfo) {
	m.inFlight.WithLabelValues(label(info.Name)).Inc()
}

func (m *Metrics) OnAttempt(_ context.Context, rec retry.AttemptRecord) {
	name := label(rec.Name)
	outcome := rec.Outcome.String()

	m.attempts.WithLabelValues(name, outcome).Inc()
	m.attemptDuration.WithLabelValues(name, outcome).Observe(rec.End.Sub(rec.Start).Seconds())
}

func (m *Metrics) OnSettled(_ context.Context, sum retry.Summary) {
	name := label(sum.Name)
	result := Result(sum)

	m.inFlight.WithLabelValues(name).Dec()
	m.runs.WithLabelValues(name, result).Inc()
	m.runDuration.WithLabelValues(name, result).Observe(sum.End.Sub(sum.Start).Seconds())
}

// Result is the low-cardinality label for a settled run: "success" or the
// failure kind.
func Result(sum retry.Summary) string {
	if sum.Succeeded() {
		return "success"
	}

	return sum.Kind().String()
}

func label(name string) string {
	if name == "" {
		return "unnamed"
	}

	return name
}
