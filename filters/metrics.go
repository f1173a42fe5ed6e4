package filters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the filter manager.
type Metrics struct {
	// Gauges (current values)
	ActiveFilters prometheus.Gauge
	FiltersByType *prometheus.GaugeVec

	// Counters (cumulative values)
	FiltersCreatedTotal   *prometheus.CounterVec
	FiltersReapedTotal    prometheus.Counter
	FiltersRecreatedTotal prometheus.Counter
	ChunksTotal           prometheus.Counter
	ChunksSkippedTotal    *prometheus.CounterVec
	LogsDeliveredTotal    prometheus.Counter
	ListenerErrorsTotal   prometheus.Counter

	// Histograms (distributions)
	FetchDuration prometheus.Histogram
}

// NewMetrics creates and registers all filter metrics. A nil registerer
// uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "logwatch"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveFilters: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "filters",
			Name:      "active",
			Help:      "Current number of tracked filters",
		}),
		FiltersByType: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "filters",
			Name:      "active_by_type",
			Help:      "Current number of tracked filters by type",
		}, []string{"type"}),
		FiltersCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filters",
			Name:      "created_total",
			Help:      "Total number of filters created",
		}, []string{"type"}),
		FiltersReapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filters",
			Name:      "reaped_total",
			Help:      "Total number of filters removed by the stale filter reaper",
		}),
		FiltersRecreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filters",
			Name:      "recreated_total",
			Help:      "Total number of filters transparently recreated after expiry",
		}),
		ChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "chunks_total",
			Help:      "Total number of block-range chunks fetched",
		}),
		ChunksSkippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "chunks_skipped_total",
			Help:      "Total number of chunks skipped after tolerated errors",
		}, []string{"reason"}),
		LogsDeliveredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "logs_delivered_total",
			Help:      "Total number of event logs delivered to callers",
		}),
		ListenerErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "errors_total",
			Help:      "Total number of errors swallowed by listener poll loops",
		}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Duration of complete log fetches, including all chunks",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}
