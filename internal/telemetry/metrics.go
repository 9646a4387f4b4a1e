// Package telemetry exposes Prometheus metrics for the annotation pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BatchesDispatched counts batches handed to the worker pool.
	BatchesDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vepcache_batches_dispatched_total",
		Help: "Total batches handed to the worker pool",
	})

	// BatchSize observes the number of variants per dispatched batch.
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vepcache_batch_size",
		Help:    "Distribution of variants per dispatched batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 200},
	})

	// VariantsCompleted counts variants annotated and persisted.
	VariantsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vepcache_variants_completed_total",
		Help: "Total variants annotated and persisted",
	})

	// VariantsFailed counts per-variant failures by reason.
	VariantsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vepcache_variants_failed_total",
		Help: "Total per-variant failures by reason",
	}, []string{"reason"})

	// VEPErrors counts whole-batch upstream failures.
	VEPErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vepcache_vep_errors_total",
		Help: "Total whole-batch VEP request failures",
	})

	// CacheHits counts submissions short-circuited by the annotation cache.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vepcache_cache_hits_total",
		Help: "Total submissions answered from the annotation cache",
	})

	// QueueDepth tracks the number of variants waiting for a flush.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vepcache_queue_depth",
		Help: "Variants currently queued and awaiting batch dispatch",
	})
)

func init() {
	prometheus.MustRegister(BatchesDispatched, BatchSize, VariantsCompleted,
		VariantsFailed, VEPErrors, CacheHits, QueueDepth)
}
