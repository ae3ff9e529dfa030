// Package metrics holds the prometheus collectors for cache, upstream and
// recommendation activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_requests_total",
			Help: "Cache lookups by query class and outcome (hit, miss, stale, error)",
		},
		[]string{"class", "outcome"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_cache_entries",
			Help: "Current number of entries held by the in-memory cache",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_evictions_total",
			Help: "Cache evictions by reason (expired, capacity)",
		},
		[]string{"reason"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmdb_requests_total",
			Help: "Calls made to the upstream catalog API by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmdb_request_duration_seconds",
			Help:    "Latency of upstream catalog requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tmdb_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	MirrorSyncFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_mirror_sync_failures_total",
			Help: "Movies surfaced by upstream that could not be written to the mirror",
		},
	)

	RecommendBackfill = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendations_backfilled_total",
			Help: "Recommendation responses that needed trending backfill",
		},
	)
)
