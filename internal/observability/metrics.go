// Package observability holds the Prometheus instruments shared by the scraper and the read API
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "river_monitor"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion and the read API.
type Metrics struct {
	CyclesTotal         *prometheus.CounterVec // labels: status={success,error}
	RecordsParsed       prometheus.Counter
	RecordsWritten      prometheus.Counter
	RowsSkipped         *prometheus.CounterVec // labels: reason
	WriteErrors         prometheus.Counter
	RetentionDeleted    prometheus.Counter
	CycleDuration       prometheus.Histogram
	LastSuccessUnixTime prometheus.Gauge

	APIRequests *prometheus.CounterVec // labels: route, code
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Ingestion cycles by outcome.",
		}, []string{"status"}),
		RecordsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_parsed_total",
			Help:      "Measurement records built from the source table.",
		}),
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Measurements inserted or changed in the store.",
		}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Source table rows skipped, by reason.",
		}, []string{"reason"}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Per-row upsert failures.",
		}),
		RetentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Measurements purged by the retention pass.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-parse-reconcile cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LastSuccessUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Read API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CyclesTotal,
		m.RecordsParsed,
		m.RecordsWritten,
		m.RowsSkipped,
		m.WriteErrors,
		m.RetentionDeleted,
		m.CycleDuration,
		m.LastSuccessUnixTime,
		m.APIRequests,
	)
	return m
}

// NewUnregisteredMetrics creates Metrics that are not exported anywhere. One-shot runs and
// tests use it; any number can coexist without "already registered" panics.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics()
}
