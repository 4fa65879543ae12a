// Package metrics exposes prometheus collectors for the registry hot paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemakeeper_registrations_total",
		Help: "Total number of schema registration attempts.",
	}, []string{"format", "outcome"})

	CompatibilityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schemakeeper_compatibility_violations_total",
		Help: "Total number of field-level compatibility violations reported.",
	})

	StorageConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schemakeeper_storage_conflicts_total",
		Help: "Total number of store or allocator invariant violations.",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schemakeeper_client_cache_hits_total",
		Help: "Total number of schema resolutions served from the client cache.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schemakeeper_client_cache_misses_total",
		Help: "Total number of schema resolutions that required a registry fetch.",
	})

	RegistrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "schemakeeper_registration_duration_seconds",
		Help:    "Duration of schema registration requests.",
		Buckets: prometheus.DefBuckets,
	})
)
