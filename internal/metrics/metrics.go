package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	StoreOps      *prometheus.CounterVec
	IngestFetches *prometheus.CounterVec
	IngestLatency *prometheus.HistogramVec
	ArchiveOps    *prometheus.CounterVec
	Errors        *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total store mutations by kind and outcome.",
			}, []string{"op", "status"}),
			IngestFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_ingest_total",
				Help:      "Total media ingestion attempts by outcome.",
			}, []string{"status"}),
			IngestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "media_ingest_duration_seconds",
				Help:      "Latency distribution for media ingestion.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			ArchiveOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_operations_total",
				Help:      "Total archive exports and imports by outcome.",
			}, []string{"op", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.StoreOps,
			metricsInstance.IngestFetches,
			metricsInstance.IngestLatency,
			metricsInstance.ArchiveOps,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
