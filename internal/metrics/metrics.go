// Package metrics provides ingestion and fetch metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for the ingestion service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	filesIngestedTotal *prometheus.CounterVec
	rowsLoadedTotal    prometheus.Counter
	ingestionDuration  *prometheus.HistogramVec

	fetchFilesTotal       *prometheus.CounterVec
	upstreamRequestsTotal *prometheus.CounterVec
}

// New creates and registers the metrics on registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.filesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefeed_files_ingested_total",
			Help: "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"}, // outcome: loaded, skipped or a failure reason
	)

	m.rowsLoadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casefeed_rows_loaded_total",
			Help: "Total number of observation rows loaded",
		},
	)

	m.ingestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casefeed_ingestion_duration_seconds",
			Help:    "Time taken to run the ingestion pipeline for one file",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	m.fetchFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefeed_fetch_files_total",
			Help: "Total number of upstream files seen by the fetch coordinator by result",
		},
		[]string{"result"}, // result: submitted, resubmitted, skipped, failed
	)

	m.upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casefeed_upstream_requests_total",
			Help: "Total number of requests to the upstream repository",
		},
		[]string{"operation", "status"},
	)
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.filesIngestedTotal.Describe(ch)
	m.rowsLoadedTotal.Describe(ch)
	m.ingestionDuration.Describe(ch)
	m.fetchFilesTotal.Describe(ch)
	m.upstreamRequestsTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.filesIngestedTotal.Collect(ch)
	m.rowsLoadedTotal.Collect(ch)
	m.ingestionDuration.Collect(ch)
	m.fetchFilesTotal.Collect(ch)
	m.upstreamRequestsTotal.Collect(ch)
}

// RecordIngestion records one finished pipeline run.
func (m *Metrics) RecordIngestion(outcome string, rows int, seconds float64) {
	if m == nil {
		return
	}
	m.filesIngestedTotal.WithLabelValues(outcome).Inc()
	m.ingestionDuration.WithLabelValues(outcome).Observe(seconds)
	if rows > 0 {
		m.rowsLoadedTotal.Add(float64(rows))
	}
}

// RecordFetchFile records the handling of one upstream file.
func (m *Metrics) RecordFetchFile(result string) {
	if m == nil {
		return
	}
	m.fetchFilesTotal.WithLabelValues(result).Inc()
}

// RecordUpstreamRequest records one upstream request attempt.
func (m *Metrics) RecordUpstreamRequest(operation, status string) {
	if m == nil {
		return
	}
	m.upstreamRequestsTotal.WithLabelValues(operation, status).Inc()
}
