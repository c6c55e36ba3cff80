package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterMetrics records operation activity for the router catalog.
type RouterMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var (
	routerMetricsOnce sync.Once
	routerRegistry    *RouterMetrics
)

// Router returns the lazily-initialised router metrics registry.
func Router() *RouterMetrics {
	routerMetricsOnce.Do(func() {
		routerRegistry = &RouterMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "proxy",
				Subsystem: "router",
				Name:      "operations_total",
				Help:      "Total router operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "proxy",
				Subsystem: "router",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for router operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(routerRegistry.operations, routerRegistry.duration)
	})
	return routerRegistry
}

// Observe records one completed operation with its outcome and latency.
func (m *RouterMetrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
