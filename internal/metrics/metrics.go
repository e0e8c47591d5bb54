// Package metrics exposes Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "hotel_ingest"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Fetch metrics
	PagesFetchedTotal  *prometheus.CounterVec
	FetchErrorsTotal   *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	CredentialsHealthy prometheus.Gauge

	// Persistence metrics
	RecordsPersistedTotal *prometheus.CounterVec
	PersistFailuresTotal  *prometheus.CounterVec

	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	UnitsSettled *prometheus.GaugeVec

	// Hand-off metrics
	EventsPublishedTotal prometheus.Counter
	DeadLettersTotal     *prometheus.CounterVec
	BackfillIndexedTotal prometheus.Counter
}

// New creates and registers all pipeline metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.PagesFetchedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pages_fetched_total",
			Help:      "Total provider pages fetched",
		},
		[]string{"job"},
	)

	m.FetchErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_errors_total",
			Help:      "Total provider fetch failures after retries",
		},
		[]string{"job"},
	)

	m.FetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of provider page fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"job"},
	)

	m.CredentialsHealthy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "credentials_healthy",
			Help:      "Number of credentials currently usable",
		},
	)

	m.RecordsPersistedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_persisted_total",
			Help:      "Total records written to the database",
		},
		[]string{"job"},
	)

	m.PersistFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persist_failures_total",
			Help:      "Total records that failed persistence after fallback",
		},
		[]string{"job"},
	)

	m.RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Total runs by job and terminal status",
		},
		[]string{"job", "status"},
	)

	m.RunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~18h
		},
		[]string{"job"},
	)

	m.UnitsSettled = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "work_units",
			Help:      "Work units of the current run by status",
		},
		[]string{"status"},
	)

	m.EventsPublishedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_published_total",
			Help:      "Total hand-off events published to the stream",
		},
	)

	m.DeadLettersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dead_letters_total",
			Help:      "Total events dead-lettered by error code",
		},
		[]string{"error_code"},
	)

	m.BackfillIndexedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backfill_indexed_total",
			Help:      "Total documents written to the search index",
		},
	)

	return m
}

// RecordPageFetched records one successfully fetched page.
func (m *Metrics) RecordPageFetched(job string, durationSeconds float64) {
	m.PagesFetchedTotal.WithLabelValues(job).Inc()
	m.FetchDuration.WithLabelValues(job).Observe(durationSeconds)
}

// RecordFetchError records a fetch that failed after retries.
func (m *Metrics) RecordFetchError(job string) {
	m.FetchErrorsTotal.WithLabelValues(job).Inc()
}

// RecordPersisted records persistence results for one batch.
func (m *Metrics) RecordPersisted(job string, success, failed int) {
	m.RecordsPersistedTotal.WithLabelValues(job).Add(float64(success))
	if failed > 0 {
		m.PersistFailuresTotal.WithLabelValues(job).Add(float64(failed))
	}
}

// RecordRunFinished records a run reaching a terminal status.
func (m *Metrics) RecordRunFinished(job, status string, durationSeconds float64) {
	m.RunsTotal.WithLabelValues(job, status).Inc()
	m.RunDuration.WithLabelValues(job).Observe(durationSeconds)
}

// SetUnitCounts publishes the current run's unit distribution.
func (m *Metrics) SetUnitCounts(pending, processing, completed, failed int) {
	m.UnitsSettled.WithLabelValues("pending").Set(float64(pending))
	m.UnitsSettled.WithLabelValues("processing").Set(float64(processing))
	m.UnitsSettled.WithLabelValues("completed").Set(float64(completed))
	m.UnitsSettled.WithLabelValues("failed").Set(float64(failed))
}

// RecordEventPublished records one hand-off event.
func (m *Metrics) RecordEventPublished() {
	m.EventsPublishedTotal.Inc()
}

// RecordDeadLetter records one dead-lettered event.
func (m *Metrics) RecordDeadLetter(errorCode string) {
	m.DeadLettersTotal.WithLabelValues(errorCode).Inc()
}

// RecordIndexed records documents written to the search index.
func (m *Metrics) RecordIndexed(count int) {
	m.BackfillIndexedTotal.Add(float64(count))
}

// SetCredentialsHealthy publishes the usable credential count.
func (m *Metrics) SetCredentialsHealthy(count int) {
	m.CredentialsHealthy.Set(float64(count))
}
