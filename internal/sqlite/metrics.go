package sqlite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// registryOpenTotal counts Registry.Open calls by result (hit, miss, error).
	registryOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenplan_registry_open_total",
		Help: "Plan database opens by cache result",
	}, []string{"result"})

	// registryCloseTotal counts plan databases torn down by Registry.Close.
	registryCloseTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenplan_registry_close_total",
		Help: "Plan databases closed and deleted",
	})

	// registryOpenHandles tracks cached plan database handles.
	registryOpenHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tokenplan_registry_open_handles",
		Help: "Plan database handles currently cached",
	})

	// detailMutationTotal counts detail-row mutations by operation.
	detailMutationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenplan_detail_mutation_total",
		Help: "Category detail mutations by operation",
	}, []string{"operation"})

	// aggregateDuration tracks plan report build latency.
	aggregateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenplan_aggregate_duration_seconds",
		Help:    "Plan report aggregation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)
