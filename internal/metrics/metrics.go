// Package metrics holds the Prometheus collectors for pipeline stages and the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "findataops"

// Row outcomes counted by IngestRows.
const (
	OutcomeRead      = "read"
	OutcomeLoaded    = "loaded"
	OutcomeDropped   = "dropped"
	OutcomeDuplicate = "duplicate"
)

// Metrics is a set of collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	IngestRows      *prometheus.CounterVec
	Anomalies       *prometheus.CounterVec
	Forecasts       *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge
}

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		IngestRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_rows_total",
				Help:      "Statement rows by institution and outcome",
			},
			[]string{"institution", "outcome"},
		),
		Anomalies: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_flagged_total",
				Help:      "Anomalies produced by detection runs by type and severity",
			},
			[]string{"type", "severity"},
		),
		Forecasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecasts_produced_total",
				Help:      "Forecast rows written by quality tag",
			},
			[]string{"quality"},
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by stage and final status",
			},
			[]string{"stage", "status"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"stage"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_queue_depth",
				Help:      "Ingest jobs waiting in the queue",
			},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records the outcome and duration of a finished run.
func (m *Metrics) ObserveRun(run *domain.RunRecord) {
	if m == nil || run == nil {
		return
	}
	m.Runs.WithLabelValues(string(run.Stage), string(run.Status)).Inc()
	if run.FinishedAt != nil {
		m.StageDuration.WithLabelValues(string(run.Stage)).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}

	switch run.Stage {
	case domain.StageIngest:
		inst := run.Institution
		if inst == "" {
			inst = "unknown"
		}
		m.IngestRows.WithLabelValues(inst, OutcomeRead).Add(float64(run.RowsRead))
		m.IngestRows.WithLabelValues(inst, OutcomeLoaded).Add(float64(run.RowsLoaded))
		m.IngestRows.WithLabelValues(inst, OutcomeDropped).Add(float64(run.RowsDropped))
		m.IngestRows.WithLabelValues(inst, OutcomeDuplicate).Add(float64(run.RowsDuplicate))
	}
}

// ObserveAnomalies counts persisted anomaly records.
func (m *Metrics) ObserveAnomalies(recs []domain.AnomalyRecord) {
	if m == nil {
		return
	}
	for _, a := range recs {
		m.Anomalies.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

// ObserveForecasts counts written forecast rows.
func (m *Metrics) ObserveForecasts(recs []domain.ForecastRecord) {
	if m == nil {
		return
	}
	for _, f := range recs {
		m.Forecasts.WithLabelValues(f.QualityTag).Inc()
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// SetQueueDepth records the number of ingest jobs waiting for a worker.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
