package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits tracks cache hits by layer (redis)
	Hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardapi_cache_hits_total",
			Help: "Total number of list-page cache hits",
		},
		[]string{"layer"}, // "redis"
	)

	// Misses tracks cache misses
	Misses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardapi_cache_misses_total",
			Help: "Total number of list-page cache misses",
		},
	)

	// Invalidations tracks full keyspace purges after mutations
	Invalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardapi_cache_invalidations_total",
			Help: "Total number of list-page cache invalidations",
		},
	)

	// Errors tracks cache operation errors
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardapi_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "invalidate"
	)
)
