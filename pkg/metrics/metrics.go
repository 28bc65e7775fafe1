package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Catalog and cache instrumentation shared by the metadata layer.
var (
	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookery",
		Subsystem: "catalog",
		Name:      "requests_total",
		Help:      "Upstream catalog requests by operation and outcome.",
	}, []string{"op", "outcome"})

	CatalogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bookery",
		Subsystem: "catalog",
		Name:      "request_duration_seconds",
		Help:      "Upstream catalog request latency by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookery",
		Subsystem: "bookcache",
		Name:      "hits_total",
		Help:      "Metadata cache hits.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookery",
		Subsystem: "bookcache",
		Name:      "misses_total",
		Help:      "Metadata cache misses.",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookery",
		Subsystem: "bookcache",
		Name:      "evictions_total",
		Help:      "Metadata cache LRU evictions.",
	})
)
