package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightcast_cache_hits_total",
		Help: "Total number of Lightcast response cache hits",
	})

	// CacheMisses tracks cache misses.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightcast_cache_misses_total",
		Help: "Total number of Lightcast response cache misses",
	})

	// CacheSize tracks bytes written to the cache during this process.
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lightcast_cache_size_bytes",
		Help: "Bytes written to the Lightcast response cache",
	})

	// NotModifiedResponses tracks 304 Not Modified responses.
	NotModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightcast_304_responses_total",
		Help: "Total number of Lightcast 304 Not Modified responses",
	})

	// ConditionalRequestsSent tracks requests sent with If-None-Match or If-Modified-Since.
	ConditionalRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightcast_conditional_requests_total",
		Help: "Total number of conditional requests sent to Lightcast",
	})

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightcast_cache_errors_total",
		Help: "Total number of cache operation errors",
	}, []string{"operation"}) // "get", "set", "delete"
)
