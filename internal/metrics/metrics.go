// Package metrics exposes Prometheus counters for imports, model calls and
// the HTTP API. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finance_ingest"

type Metrics struct {
	registry *prometheus.Registry

	importsTotal    *prometheus.CounterVec
	importDuration  prometheus.Histogram
	batchesTotal    *prometheus.CounterVec
	recordsTotal    *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	warningsTotal   prometheus.Counter
	modelCallsTotal *prometheus.CounterVec
	modelLatency    *prometheus.HistogramVec
	jobsTotal       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		importsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_total",
				Help:      "Statement imports by terminal status",
			},
			[]string{"kind", "status"},
		),
		importDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "import_duration_seconds",
				Help:      "Wall time of one statement import",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		batchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Parser batches by outcome",
			},
			[]string{"outcome"},
		),
		recordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Records accounted for by import outcome",
			},
			[]string{"outcome"},
		),
		droppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_dropped_total",
				Help:      "Dropped records by reason",
			},
			[]string{"reason"},
		),
		warningsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_warnings_total",
				Help:      "Partial-parse warnings raised while reading model output",
			},
		),
		modelCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Model requests by purpose and result",
			},
			[]string{"purpose", "result"},
		),
		modelLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Model request latency",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"purpose"},
		),
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Background import jobs by terminal status",
			},
			[]string{"status"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the private registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ImportFinished(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(kind, status).Inc()
	m.importDuration.Observe(elapsed.Seconds())
}

// BatchProcessed counts one batch; outcome is committed, aborted or failed.
func (m *Metrics) BatchProcessed(outcome string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordsCounted(inserted, skipped int, dropped map[string]int) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues("inserted").Add(float64(inserted))
	m.recordsTotal.WithLabelValues("skipped_duplicate").Add(float64(skipped))
	for reason, n := range dropped {
		m.recordsTotal.WithLabelValues("dropped").Add(float64(n))
		m.droppedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) ParseWarning() {
	if m == nil {
		return
	}
	m.warningsTotal.Inc()
}

// ModelCall records one model request; purpose is extract or categorize.
func (m *Metrics) ModelCall(purpose string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.modelCallsTotal.WithLabelValues(purpose, result).Inc()
	m.modelLatency.WithLabelValues(purpose).Observe(elapsed.Seconds())
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
