package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered on a private registry, so multiple clusters in one
// test binary never collide.
type metrics struct {
	registry *prometheus.Registry
	kvOps    *prometheus.CounterVec
	jobs     prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		kvOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minicluster",
			Subsystem: "kv",
			Name:      "ops_total",
			Help:      "Key/value operations served, by operation.",
		}, []string{"op"}),
		jobs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "minicluster",
			Subsystem: "compute",
			Name:      "jobs_total",
			Help:      "Compute jobs accepted.",
		}),
	}
}
