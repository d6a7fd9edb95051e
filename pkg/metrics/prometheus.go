package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus
// metrics.
type PrometheusRecorder struct {
	runsTotal      *prometheus.CounterVec
	iterationsRun  *prometheus.HistogramVec
	toolsTotal     *prometheus.CounterVec
	relaunchTotal  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	modelDuration  *prometheus.HistogramVec
	modelReqsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with its collectors registered on
// reg. Callers own the registry so one process can scope metrics per run.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hand_runs_total",
				Help: "Total number of hand runs by backend and terminal outcome",
			},
			[]string{"backend", "outcome"},
		),
		iterationsRun: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hand_run_iterations",
				Help:    "Iterations consumed per run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"backend"},
		),
		toolsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hand_tool_executions_total",
				Help: "Total directive tool executions by kind and status",
			},
			[]string{"kind", "status"},
		),
		relaunchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hand_process_relaunches_total",
				Help: "Supervisor process relaunches by backend and retry reason",
			},
			[]string{"backend", "reason"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hand_run_duration_seconds",
				Help:    "Wall-clock duration of hand runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"backend"},
		),
		modelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hand_model_request_duration_seconds",
				Help:    "Duration of model API calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		modelReqsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hand_model_requests_total",
				Help: "Total model API calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
	}
}

// ObserveRun records a completed run.
func (p *PrometheusRecorder) ObserveRun(backend, outcome string, iterations int, duration time.Duration) {
	p.runsTotal.WithLabelValues(backend, outcome).Inc()
	p.runDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if iterations > 0 {
		p.iterationsRun.WithLabelValues(backend).Observe(float64(iterations))
	}
}

// ObserveModelRequest records one model API call.
func (p *PrometheusRecorder) ObserveModelRequest(provider, model, status string, duration time.Duration) {
	p.modelReqsTotal.WithLabelValues(provider, model, status).Inc()
	p.modelDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// IncToolExecution counts one directive tool execution.
func (p *PrometheusRecorder) IncToolExecution(kind, status string) {
	p.toolsTotal.WithLabelValues(kind, status).Inc()
}

// IncRelaunch counts one supervisor process relaunch.
func (p *PrometheusRecorder) IncRelaunch(backend, reason string) {
	p.relaunchTotal.WithLabelValues(backend, reason).Inc()
}
