package infrastructure

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the pipeline. One instance
// is shared by all entity pipelines; labels separate them.
type Metrics struct {
	registry *prometheus.Registry

	RecordsExtracted *prometheus.CounterVec
	RecordsAccepted  *prometheus.CounterVec
	RecordsRejected  *prometheus.CounterVec
	RecordsLoaded    *prometheus.CounterVec
	RecordsFailed    *prometheus.CounterVec
	Anomalies        *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	Runs             *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline collectors on a private
// registry so tests can instantiate isolated copies.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		RecordsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdetl_records_extracted_total",
			Help: "Raw records produced by extractors.",
		}, []string{"entity", "source"}),
		RecordsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdetl_records_accepted_total",
			Help: "Standardized records that passed validation.",
		}, []string{"entity"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdetl_records_rejected_total",
			Help: "Standardized records rejected by validation.",
		}, []string{"entity"}),
		RecordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdetl_records_loaded_total",
			Help: "Records upserted into the warehouse.",
		}, []string{"entity"}),
		RecordsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdetl_records_failed_total",
			Help: "Accepted records that failed to load.",
		}, []string{"entity"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdetl_anomalies_total",
			Help: "Records flagged anomalous by the z-score check.",
		}, []string{"entity"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdetl_http_requests_total",
			Help: "Outbound API request attempts by outcome.",
		}, []string{"source", "outcome"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mdetl_phase_duration_seconds",
			Help:    "Wall time per pipeline phase.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"entity", "phase"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdetl_runs_total",
			Help: "Completed pipeline runs by final status.",
		}, []string{"entity", "status"}),
	}

	reg.MustRegister(
		m.RecordsExtracted, m.RecordsAccepted, m.RecordsRejected,
		m.RecordsLoaded, m.RecordsFailed, m.Anomalies,
		m.HTTPRequests, m.PhaseDuration, m.Runs,
	)
	return m
}

// Handler exposes the registry for the ops /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
