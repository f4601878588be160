package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus instrumentation for the deployment
// pipeline. A disabled instance records nothing, so callers never guard
// their recording calls.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	deploymentsStarted   *prometheus.CounterVec
	deploymentsCompleted *prometheus.CounterVec
	deploymentDuration   *prometheus.HistogramVec

	strategyAttempts *prometheus.CounterVec
	strategyDuration *prometheus.HistogramVec

	verificationRounds  *prometheus.CounterVec
	verificationOutcome *prometheus.CounterVec

	platformCalls    *prometheus.CounterVec
	platformDuration *prometheus.HistogramVec
	platformErrors   *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	activeDeployments prometheus.Gauge
}

// metricSet accumulates every collector it builds so NewMetrics can
// register them in one call.
type metricSet struct {
	namespace  string
	buckets    []float64
	collectors []prometheus.Collector
}

func (s *metricSet) counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: s.namespace,
		Name:      name,
		Help:      help,
	}, labels)
	s.collectors = append(s.collectors, c)
	return c
}

func (s *metricSet) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: s.namespace,
		Name:      name,
		Help:      help,
		Buckets:   s.buckets,
	}, labels)
	s.collectors = append(s.collectors, h)
	return h
}

func (s *metricSet) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: s.namespace,
		Name:      name,
		Help:      help,
	})
	s.collectors = append(s.collectors, g)
	return g
}

// NewMetrics builds the metric set on a private registry so the
// /metrics endpoint serves only deployment metrics, not the default Go
// runtime collectors.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	set := &metricSet{namespace: cfg.Namespace, buckets: buckets}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		deploymentsStarted: set.counter("deployments_started_total",
			"Total number of deployments started", "kind"),
		deploymentsCompleted: set.counter("deployments_completed_total",
			"Total number of deployments completed", "kind", "status"),
		deploymentDuration: set.histogram("deployment_duration_seconds",
			"Duration of deployment execution in seconds", "status"),

		strategyAttempts: set.counter("strategy_attempts_total",
			"Total number of deployment strategy attempts", "strategy", "status"),
		strategyDuration: set.histogram("strategy_attempt_duration_seconds",
			"Duration of strategy attempts in seconds", "strategy", "kind"),

		verificationRounds: set.counter("verification_rounds_total",
			"Total number of verification query rounds", "kind"),
		verificationOutcome: set.counter("verifications_total",
			"Total number of verifications by outcome", "kind", "outcome"),

		platformCalls: set.counter("platform_calls_total",
			"Total number of platform REST API calls", "method", "table"),
		platformDuration: set.histogram("platform_call_duration_seconds",
			"Duration of platform REST API calls in seconds", "method", "table"),
		platformErrors: set.counter("platform_errors_total",
			"Total number of platform REST API errors", "method", "status_code"),

		errorsByClass: set.counter("errors_by_class_total",
			"Total number of errors by error class", "class"),
		errorsByCode: set.counter("errors_by_code_total",
			"Total number of errors by error code", "code"),

		activeDeployments: set.gauge("active_deployments",
			"Current number of active deployments"),
	}

	m.registry.MustRegister(set.collectors...)
	return m, nil
}

// RecordDeploymentStarted increments the started counter and the active
// gauge.
func (m *Metrics) RecordDeploymentStarted(kind string) {
	if m.deploymentsStarted == nil {
		return
	}
	m.deploymentsStarted.WithLabelValues(kind).Inc()
	m.activeDeployments.Inc()
}

// RecordDeploymentCompleted records a finished deployment with its
// status and duration.
func (m *Metrics) RecordDeploymentCompleted(kind, status string, duration time.Duration) {
	if m.deploymentsCompleted == nil {
		return
	}
	m.deploymentsCompleted.WithLabelValues(kind, status).Inc()
	m.deploymentDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeDeployments.Dec()
}

// RecordStrategyAttempt records one strategy execution.
func (m *Metrics) RecordStrategyAttempt(strategy, status string, duration time.Duration, kind string) {
	if m.strategyAttempts == nil {
		return
	}
	m.strategyAttempts.WithLabelValues(strategy, status).Inc()
	m.strategyDuration.WithLabelValues(strategy, kind).Observe(duration.Seconds())
}

// RecordVerificationRound records a single verification query round.
func (m *Metrics) RecordVerificationRound(kind string) {
	if m.verificationRounds == nil {
		return
	}
	m.verificationRounds.WithLabelValues(kind).Inc()
}

// RecordVerification records the final outcome of a verification.
func (m *Metrics) RecordVerification(kind, outcome string) {
	if m.verificationOutcome == nil {
		return
	}
	m.verificationOutcome.WithLabelValues(kind, outcome).Inc()
}

// RecordPlatformCall records a platform REST call and its latency.
func (m *Metrics) RecordPlatformCall(method, table string, duration time.Duration) {
	if m.platformCalls == nil {
		return
	}
	m.platformCalls.WithLabelValues(method, table).Inc()
	m.platformDuration.WithLabelValues(method, table).Observe(duration.Seconds())
}

// RecordPlatformError records a platform REST call failure.
func (m *Metrics) RecordPlatformError(method, statusCode string) {
	if m.platformErrors == nil {
		return
	}
	m.platformErrors.WithLabelValues(method, statusCode).Inc()
}

// RecordError counts an error by class and, when present, by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer measures elapsed time for an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint in the background. A
// serve failure is reported on stderr rather than stopping deployments.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()

	return nil
}
