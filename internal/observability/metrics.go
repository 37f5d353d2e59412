package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects loop and sandbox measurements. It satisfies both the
// sandbox observer and the controller's metrics hook.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	exec := sandbox.NewExecutor(reg, tiers, sandbox.WithObserver(metrics))
type Metrics struct {
	// Executions counts finished fragment executions.
	// Labels: tier, outcome, error_kind
	Executions *prometheus.CounterVec

	// ExecutionDuration measures fragment wall time in seconds.
	// Labels: tier, outcome
	// Buckets: 1ms .. 60s
	ExecutionDuration *prometheus.HistogramVec

	// PhaseDuration measures time spent in each loop phase.
	// Labels: phase (planning|executing|reflecting)
	PhaseDuration *prometheus.HistogramVec

	// Cycles counts finished cycles.
	// Labels: action_kind, status
	Cycles *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franz_sandbox_executions_total",
				Help: "Total number of fragment executions by tier, outcome and error kind",
			},
			[]string{"tier", "outcome", "error_kind"},
		),

		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "franz_sandbox_execution_duration_seconds",
				Help:    "Duration of fragment executions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tier", "outcome"},
		),

		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "franz_loop_phase_duration_seconds",
				Help:    "Duration of loop phases in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"phase"},
		),

		Cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "franz_loop_cycles_total",
				Help: "Total number of finished cycles by action kind and status",
			},
			[]string{"action_kind", "status"},
		),
	}
}

// ObserveExecution records one fragment execution.
func (m *Metrics) ObserveExecution(tier, outcome, kind string, duration time.Duration) {
	if kind == "" {
		kind = "none"
	}
	m.Executions.WithLabelValues(tier, outcome, kind).Inc()
	m.ExecutionDuration.WithLabelValues(tier, outcome).Observe(duration.Seconds())
}

// ObservePhase records the time one loop phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// CycleFinished counts a finished cycle.
func (m *Metrics) CycleFinished(actionKind, status string) {
	m.Cycles.WithLabelValues(actionKind, status).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
