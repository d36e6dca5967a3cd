// Package metrics records pipeline results as Prometheus metrics. A run is a short-lived batch
// job, so instead of serving the metrics they are written out in the text exposition format for
// node_exporter's textfile collector or a pushgateway sidecar.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cloudbees/browser-matrix-tests/framework"
)

const MetricsNamespace = "browser_matrix"

// Collector implements framework.Observer.
type Collector struct {
	registry *prometheus.Registry

	pipelinesTotal  *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	reportErrors    *prometheus.CounterVec
	releaseErrors   *prometheus.CounterVec
	pipelineSeconds *prometheus.HistogramVec
	lastRunSuccess  prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Collector{
		registry: registry,
		pipelinesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "pipelines_total",
			Help:      "Count of finished pipelines by result",
		}, []string{
			"os",
			"browser",
			"result",
		}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "pipeline_failures_total",
			Help:      "Count of failed pipelines by the step that failed and the kind of failure",
		}, []string{
			"failed_at",
			"kind",
		}),
		reportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "report_errors_total",
			Help:      "Count of outcomes that could not be reported to the provider",
		}, []string{
			"browser",
		}),
		releaseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "release_errors_total",
			Help:      "Count of sessions that could not be released and may have leaked",
		}, []string{
			"browser",
		}),
		pipelineSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from pipeline start until its session was released",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{
			"browser",
		}),
		lastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "last_run_success",
			Help:      "1 if every pipeline of the last run succeeded, otherwise 0",
		}),
	}
}

// ObservePipeline implements framework.Observer.
func (c *Collector) ObservePipeline(r framework.PipelineResult) {
	env := r.Environment
	result := "succeeded"
	if !r.Succeeded() {
		result = "failed"
		c.failuresTotal.WithLabelValues(string(r.FailedAt), failureKind(r)).Inc()
	}
	c.pipelinesTotal.WithLabelValues(env.OperatingSystem, env.BrowserName, result).Inc()
	if r.ReportErr != nil {
		c.reportErrors.WithLabelValues(env.BrowserName).Inc()
	}
	if r.ReleaseErr != nil {
		c.releaseErrors.WithLabelValues(env.BrowserName).Inc()
	}
	c.pipelineSeconds.WithLabelValues(env.BrowserName).Observe(r.Duration.Seconds())
}

// ObserveRun records the overall result of a run.
func (c *Collector) ObserveRun(results framework.Results) {
	if results.OK() {
		c.lastRunSuccess.Set(1)
	} else {
		c.lastRunSuccess.Set(0)
	}
}

// WriteTextfile writes all metrics to path, replacing it atomically.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

func failureKind(r framework.PipelineResult) string {
	switch {
	case r.SessionErr != nil:
		return "session"
	case r.Outcome != nil && r.Outcome.FailureKind != "":
		return string(r.Outcome.FailureKind)
	default:
		return "unknown"
	}
}
